// Command frontier-crawler runs distributed crawl workers over a shared Redis frontier.
package main

import "github.com/JakeFAU/frontier-crawler/cmd"

func main() {
	cmd.Execute()
}
