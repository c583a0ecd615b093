package cmd

import (
	"fmt"
)

const banner = `
  ___              _          ___                   _ 
 / __| ___ ___ ___(_)___ _ _ / __|_  _ __ _ _ _ __| |
 \__ \/ -_|_-<(_-<| / _ \ ' \ (_ | || / _` + "`" + ` | '_/ _` + "`" + ` |
 |___/\___/__//__/|_\___/_||_\___|\_,_\__,_|_| \__,_|
                                                      
`

func printBanner() {
	fmt.Printf("\x1b[34m%s\x1b[0m", banner)
	fmt.Printf("\x1b[32m  Session Inactivity Guard - Version %s\x1b[0m\n\n", Version)
}
