package cmd

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

var watchEvents []string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream live events over the websocket",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		u, err := newClient().wsURL("/ws")
		if err != nil {
			return err
		}
		c, _, err := websocket.DefaultDialer.Dial(u, nil)
		if err != nil {
			return fmt.Errorf("dial: %w", err)
		}
		defer c.Close()

		if len(watchEvents) > 0 {
			if err := c.WriteJSON(map[string]interface{}{"type": "subscribe", "events": watchEvents}); err != nil {
				return err
			}
		}
		fmt.Fprintln(cmd.ErrOrStderr(), "WebSocket connected. Waiting for events...")

		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				log.Println("read:", err)
				return nil
			}
			if err := printJSON(cmd.OutOrStdout(), json.RawMessage(message)); err != nil {
				return err
			}
		}
	},
}

func init() {
	watchCmd.Flags().StringSliceVar(&watchEvents, "events", nil, "only these event types, e.g. review:queued,check:completed")
	rootCmd.AddCommand(watchCmd)
}
