package cli

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/neboloop/nexus/internal/ai"
	"github.com/neboloop/nexus/internal/dispatch"
	"github.com/neboloop/nexus/internal/logic/ask"
	"github.com/neboloop/nexus/internal/notify"
	"github.com/neboloop/nexus/internal/types"
)

// ErrReported means the failure was already shown to the user.
var ErrReported = errors.New("failed")

func AskCmd() *cobra.Command {
	var (
		model        string
		sessionID    string
		system       string
		files        []string
		showThoughts bool
		notifyDone   bool
	)

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question and stream the reply",
		Long: `Ask a question through the configured backend. The reply streams to
stdout; Ctrl+C cancels. Reads the question from stdin when no argument is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := questionText(args)
			if err != nil {
				return err
			}
			req := &types.AskRequest{Text: text, Model: model, SessionId: sessionID, SystemInstruction: system}
			for _, path := range files {
				a, err := readAttachment(path)
				if err != nil {
					return err
				}
				req.Files = append(req.Files, a)
			}
			return runAsk(cmd.Context(), req, showThoughts, notifyDone)
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "", "model name (backend default when empty)")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id for conversation history")
	cmd.Flags().StringVar(&system, "system", "", "system instruction")
	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "attach a file (repeatable)")
	cmd.Flags().BoolVar(&showThoughts, "thoughts", false, "print the model's reasoning when available")
	cmd.Flags().BoolVar(&notifyDone, "notify", false, "show a desktop notification when the reply is ready")
	return cmd
}

func runAsk(parent context.Context, req *types.AskRequest, showThoughts, notifyDone bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svcCtx, err := openService()
	if err != nil {
		return err
	}
	defer svcCtx.Close()

	printer := &deltaPrinter{}
	reply, err := ask.NewAskLogic(ctx, svcCtx).Ask(req, func(u ai.Update) {
		printer.Print(u.Text)
	})
	if errors.Is(err, dispatch.ErrCanceled) {
		fmt.Fprintln(os.Stderr)
		printError("Cancelled")
		return ErrReported
	}
	if err != nil {
		return err
	}

	if notifyDone {
		notify.Send("Nexus", reply.Text)
	}
	if reply.Status == dispatch.StatusError {
		printError("%s", reply.Text)
		return ErrReported
	}

	if showThoughts && reply.Thoughts != "" {
		fmt.Fprintln(os.Stderr, thoughtStyle.Render(reply.Thoughts))
	}
	printer.Finish(reply.Text)
	for _, img := range reply.Images {
		fmt.Println(img)
	}
	return nil
}

// deltaPrinter writes the growth of a cumulative text to stdout.
type deltaPrinter struct {
	printed string
}

func (p *deltaPrinter) Print(text string) {
	if strings.HasPrefix(text, p.printed) {
		fmt.Print(text[len(p.printed):])
	} else {
		// A retry restarted the stream
		fmt.Print("\n" + text)
	}
	p.printed = text
}

func (p *deltaPrinter) Finish(text string) {
	if text != p.printed {
		p.Print(text)
	}
	fmt.Println()
}

func questionText(args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := readStdin()
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", errors.New("no question given")
	}
	return text, nil
}

func readStdin() ([]byte, error) {
	info, err := os.Stdin.Stat()
	if err != nil {
		return nil, err
	}
	if info.Mode()&os.ModeCharDevice != 0 {
		return nil, errors.New("no question given")
	}
	return io.ReadAll(os.Stdin)
}

func readAttachment(path string) (types.Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Attachment{}, fmt.Errorf("read %s: %w", path, err)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = mimeType[:i]
	}
	return types.Attachment{
		Data:     base64.StdEncoding.EncodeToString(data),
		MimeType: mimeType,
		Name:     filepath.Base(path),
	}, nil
}
