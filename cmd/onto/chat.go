package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/matsen/ontoscope/internal/chat"
	"github.com/matsen/ontoscope/internal/viz"
)

var (
	chatConversation int64
	chatThinking     bool
	chatOutput       string
	chatEvents       bool
)

func init() {
	chatCmd.Flags().Int64Var(&chatConversation, "conversation", 0, "Continue an existing conversation by id")
	chatCmd.Flags().BoolVar(&chatThinking, "thinking", false, "Show the assistant's thinking as it streams")
	chatCmd.Flags().BoolVar(&chatEvents, "events", false, "Print each stream event as a JSON line instead of a summary")
	chatCmd.Flags().StringVarP(&chatOutput, "output", "o", "", "Write the reply's graph as HTML to this file")
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat QUERY...",
	Short: "Ask the graph assistant a question",
	Long: `Send a query to the graph assistant and stream the reply. With --human
the reply is printed as it arrives; press Ctrl-C to stop it early and keep
what was received.

Examples:
  onto chat "who works at acme?" --human
  onto chat --conversation 42 "and since when?"
  onto chat --events "list companies" | jq .type
  onto chat "show me acme's employees" -o reply.html`,
	Args: cobra.MinimumNArgs(1),
	RunE: runChat,
}

// ChatResponse is the JSON output of a chat command.
type ChatResponse struct {
	ConversationID *int64        `json:"conversation_id,omitempty"`
	Title          string        `json:"title,omitempty"`
	Reply          *chat.Message `json:"reply,omitempty"`
}

func runChat(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	if cmd.Flags().Changed("conversation") {
		id := chatConversation
		s.SwitchConversation(&id, "", nil)
	}
	switch {
	case humanOutput:
		s.Chat.OnEvent(streamPrinter(os.Stdout, chatThinking))
	case chatEvents:
		s.Chat.OnEvent(func(ev chat.Event) {
			if err := outputJSONCompact(ev); err != nil {
				logger.Debug("writing event", zap.Error(err))
			}
		})
	}

	query := strings.Join(args, " ")
	if err := s.Ask(cmd.Context(), query); err != nil {
		return failed("chat", err)
	}
	s.Chat.Wait()
	s.Chat.WaitTitles()

	conv := s.Chat.Conversation()
	last, ok := conv.Last()
	var reply *chat.Message
	if ok && last.Role == chat.RoleAssistant {
		reply = &last
	}

	if chatOutput != "" && reply != nil && reply.GraphData != nil {
		s.Preview.Flush()
		html, err := viz.GenerateHTML(viz.FromStore("Chat reply", s.Preview), viz.DefaultOptions())
		if err != nil {
			return failed("rendering", err)
		}
		if err := os.WriteFile(chatOutput, []byte(html), 0644); err != nil {
			return failed("writing output file", err)
		}
	}

	if humanOutput {
		outputHuman("\n")
		if reply != nil && reply.Interrupted {
			outputHuman("%s\n", yellow("(interrupted)"))
		}
		if id, bound := conv.ID(); bound {
			title := conv.Title()
			if title == "" {
				title = "untitled"
			}
			outputHuman("%s\n", dim(fmt.Sprintf("conversation %d: %s", id, title)))
		}
		return nil
	}
	if chatEvents {
		return nil
	}
	return outputJSON(ChatResponse{ConversationID: conv.IDPtr(), Title: conv.Title(), Reply: reply})
}

// streamPrinter prints reply fragments as they are applied.
func streamPrinter(w io.Writer, showThinking bool) func(chat.Event) {
	return func(ev chat.Event) {
		switch ev.Type {
		case chat.EventThinking:
			if showThinking {
				fmt.Fprint(w, dim(ev.Content))
			}
		case chat.EventContent:
			fmt.Fprint(w, ev.Content)
		case chat.EventGraphData:
			if ev.GraphData != nil {
				fmt.Fprint(w, magenta(fmt.Sprintf("\n[graph: %d nodes, %d edges]\n", len(ev.GraphData.Nodes), len(ev.GraphData.Edges))))
			}
		}
	}
}
