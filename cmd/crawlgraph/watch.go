package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/groblegark/crawlgraph/internal/events"
	"github.com/groblegark/crawlgraph/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream run lifecycle events from NATS",
	RunE: func(cmd *cobra.Command, args []string) error {
		natsURL, _ := cmd.Flags().GetString("nats")
		if natsURL == "" {
			natsURL = os.Getenv("CRAWL_NATS_URL")
		}
		if natsURL == "" {
			return fmt.Errorf("no NATS URL: set --nats or CRAWL_NATS_URL")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		sub, err := events.NewNATSSubscriber(natsURL,
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				log.Printf("nats: disconnected: %v", err)
			}),
			nats.ReconnectHandler(func(_ *nats.Conn) {
				log.Printf("nats: reconnected")
			}),
		)
		if err != nil {
			return fmt.Errorf("connecting to NATS: %w", err)
		}
		defer sub.Close()

		ch, cancel, err := sub.Subscribe("crawl.>")
		if err != nil {
			return fmt.Errorf("subscribing to events: %w", err)
		}
		defer cancel()

		for {
			select {
			case <-ctx.Done():
				return nil
			case msg, ok := <-ch:
				if !ok {
					return nil
				}
				printEvent(msg)
			}
		}
	},
}

// printEvent renders one received event. JSON mode emits one object per
// line; table mode shows the topic plus the fields common to all run events.
func printEvent(msg events.Message) {
	if jsonOutput {
		fmt.Printf(`{"topic":%q,"event":%s}`+"\n", msg.Topic, msg.Data)
		return
	}

	var fields struct {
		Run *struct {
			ID       string `json:"id"`
			StartURL string `json:"start_url"`
		} `json:"run"`
		RunID     string `json:"run_id"`
		EdgeCount int    `json:"edge_count"`
		Reason    string `json:"reason"`
		Error     string `json:"error"`
	}
	if err := json.Unmarshal(msg.Data, &fields); err != nil {
		fmt.Printf("%s  %s  %s\n", time.Now().Format("15:04:05"), msg.Topic, msg.Data)
		return
	}

	runID := fields.RunID
	detail := ""
	switch msg.Topic {
	case events.TopicRunStarted:
		if fields.Run != nil {
			runID = fields.Run.ID
			detail = fields.Run.StartURL
		}
	case events.TopicRunCompleted:
		detail = fmt.Sprintf("%d edges, %s", fields.EdgeCount, fields.Reason)
	case events.TopicRunStopped:
		detail = fields.Reason
	case events.TopicRunFailed:
		detail = fields.Error
	}

	fmt.Printf("%s  %s  %s  %s\n",
		ui.RenderMuted(time.Now().Format("15:04:05")),
		ui.RenderAccent(msg.Topic), runID, detail)
}

func init() {
	watchCmd.Flags().String("nats", "", "NATS server URL (defaults to CRAWL_NATS_URL)")
}
