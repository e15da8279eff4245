package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var tagCmd = &cobra.Command{
	Use:   "tag",
	Short: "Manage device tags",
}

var tagAddCmd = &cobra.Command{
	Use:     "add <ip> <tag>",
	Short:   "Tag a device by IP",
	Example: `  netmapper tag add 192.168.1.10 server`,
	Args:    cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		_, err := request(map[string]any{"cmd": "add_device_tag", "ip": args[0], "tag": args[1]})
		exitOnError(err)
		fmt.Printf("Tagged %s with %q\n", args[0], args[1])
	},
}

var tagListCmd = &cobra.Command{
	Use:   "list <ip>",
	Short: "List tags on a device",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		resp, err := request(map[string]any{"cmd": "get_device_tags", "ip": args[0]})
		exitOnError(err)

		var tags []string
		exitOnError(decodeField(resp, "tags", &tags))
		if len(tags) == 0 {
			fmt.Println("No tags")
			return
		}
		for _, tag := range tags {
			fmt.Println(tag)
		}
	},
}

func init() {
	tagCmd.AddCommand(tagAddCmd)
	tagCmd.AddCommand(tagListCmd)
	rootCmd.AddCommand(tagCmd)
}
