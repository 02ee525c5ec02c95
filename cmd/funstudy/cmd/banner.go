package cmd

import (
	"fmt"
)

const banner = `
  _____             ____  _             _       
 |  ___|   _ _ __  / ___|| |_ _   _  __| |_   _ 
 | |_ | | | | '_ \ \___ \| __| | | |/ _` + "`" + ` | | | |
 |  _|| |_| | | | | ___) | |_| |_| | (_| | |_| |
 |_|   \__,_|_| |_||____/ \__|\__,_|\__,_|\__, |
                                          |___/ 
`

func printBanner() {
	fmt.Printf("\x1b[35m%s\x1b[0m", banner)
	fmt.Printf("\x1b[32m  Quiz API - Version %s\x1b[0m\n\n", Version)
}
