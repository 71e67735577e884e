package main

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/ageniuscoder/roomchat/internal/client"
	"github.com/ageniuscoder/roomchat/internal/model"
	"github.com/ageniuscoder/roomchat/internal/upload"
	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login <username> <password>",
	Short: "Log in and print the session as environment variables",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := client.Login(cmd.Context(), server, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "export ROOMCHAT_SERVER=%s\nexport ROOMCHAT_TOKEN=%s\nexport ROOMCHAT_USER=%d\n",
			s.BaseURL, s.Token, s.UserID)
		return nil
	},
}

var tailCmd = &cobra.Command{
	Use:   "tail <conversation-id>",
	Short: "Print a conversation and follow it live",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		convID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid conversation id %q", args[0])
		}
		p := &printer{out: cmd, seen: map[string]bool{}}
		w, err := openWindow(cmd.Context(), convID, p.render)
		if err != nil {
			return err
		}
		<-cmd.Context().Done()
		_ = w.Close(context.Background())
		return nil
	},
}

var (
	sendFiles   []string
	sendReplyTo string
)

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> [text...]",
	Short: "Send a message with optional attachments",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		convID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid conversation id %q", args[0])
		}
		var files []upload.File
		for _, path := range sendFiles {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			st, err := f.Stat()
			if err != nil {
				return err
			}
			files = append(files, upload.File{
				Name:     filepath.Base(path),
				Size:     st.Size(),
				MimeType: mime.TypeByExtension(filepath.Ext(path)),
				Body:     f,
			})
		}

		w, err := openWindow(cmd.Context(), convID, nil)
		if err != nil {
			return err
		}
		defer w.Close(context.Background())

		res, err := w.Send(cmd.Context(), strings.Join(args[1:], " "), files, sendReplyTo)
		for _, name := range res.Dropped {
			fmt.Fprintf(cmd.ErrOrStderr(), "upload failed, skipped %s\n", name)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "sent %s (%s)\n", res.Message.ID, res.Message.Type)
		return nil
	},
}

func init() {
	sendCmd.Flags().StringSliceVarP(&sendFiles, "file", "f", nil, "attach a file (repeatable)")
	sendCmd.Flags().StringVar(&sendReplyTo, "reply-to", "", "id of the message being replied to")
}

// openWindow dials the socket, starts a Window and opens convID on it. The
// window stops when ctx ends.
func openWindow(ctx context.Context, convID int64, onChange func(client.View)) (*client.Window, error) {
	s, err := session()
	if err != nil {
		return nil, err
	}
	tr, err := client.DialWS(ctx, s, client.WSOptions{})
	if err != nil {
		return nil, err
	}
	w := client.NewWindow(s, client.NewHTTPAPI(s), tr, client.Options{OnChange: onChange})
	go w.Run(ctx)
	if err := w.Open(ctx, convID); err != nil {
		if client.IsNotFound(err) {
			return nil, fmt.Errorf("conversation %d does not exist or you are not in it", convID)
		}
		return nil, err
	}
	return w, nil
}

type printer struct {
	out    *cobra.Command
	mu     sync.Mutex
	seen   map[string]bool
	typing bool
}

func (p *printer) render(v client.View) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w := p.out.OutOrStdout()
	for _, m := range v.Messages {
		if p.seen[m.ID] {
			continue
		}
		p.seen[m.ID] = true
		fmt.Fprintln(w, line(v, m))
	}
	if typing := len(v.Typing) > 0; typing != p.typing {
		p.typing = typing
		if typing {
			fmt.Fprintf(w, "  ... %s typing\n", names(v, v.Typing))
		}
	}
}

func line(v client.View, m model.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: %s", m.CreatedAt.Local().Format("15:04"), senderName(m), m.Content)
	for _, md := range m.Media {
		fmt.Fprintf(&b, " <%s %s>", md.Type, md.URL)
	}
	if m.ReplyTo != "" {
		fmt.Fprintf(&b, " (reply to %s)", m.ReplyTo)
	}
	for _, g := range v.Reactions(m) {
		fmt.Fprintf(&b, " %s%d", g.Emoji, g.Count)
	}
	if m.SenderID == v.Self {
		sum := v.Status(m)
		if v.Conversation.IsGroup {
			fmt.Fprintf(&b, " [%s]", sum.SeenBy())
		} else {
			fmt.Fprintf(&b, " [%s]", sum.Status)
		}
	}
	return b.String()
}

func senderName(m model.Message) string {
	if m.SenderUsername != "" {
		return m.SenderUsername
	}
	return "#" + strconv.FormatInt(m.SenderID, 10)
}

func names(v client.View, ids []int64) string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		name := "#" + strconv.FormatInt(id, 10)
		if p, ok := v.Conversation.Participant(id); ok && p.Username != "" {
			name = p.Username
		}
		out = append(out, name)
	}
	return strings.Join(out, ", ")
}
