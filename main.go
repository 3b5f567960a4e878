package main

import "github.com/LyKhan77/Auto-Monitoring-System-Reporting-Employee-s-Presence/cmd"

func main() {
	cmd.Execute()
}
