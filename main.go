package main

import "github.com/opencourse/ms-go-course-payments/cmd"

func main() {
	cmd.Execute()
}
