package cmd

import (
	"fmt"
)

const banner = `
  _____            _  __          __                _
 / ____|          | | \ \        / /               | |
| |      ___  _ __| |_ \ \  /\  / /  __ _ _ __   __| |
| |     / _ \| '__| __|  \ \/  \/ /  / _` + "`" + ` | '__| / _` + "`" + ` |
| |____|  __/| |  | |_   \  /\  /  | (_| | |   | (_| |
 \_____|\___||_|   \__|   \/  \/    \__,_|_|    \__,_|
`

func printBanner() {
	fmt.Printf("\x1b[34m%s\x1b[0m", banner)
	fmt.Printf("\x1b[32m  Private CA Reconciliation - Version %s\x1b[0m\n\n", Version)
}
