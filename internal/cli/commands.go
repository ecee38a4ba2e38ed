// Package cli implements replay-inspect, the command-line tool for reading
// replay blobs from disk or from the SQLite archive.
package cli

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/energizer-project/gamerecorder/internal/db"
	"github.com/energizer-project/gamerecorder/internal/replay"
)

// maxPayloadPreview bounds the hex preview of a payload in packet tables.
const maxPayloadPreview = 24

// NewRootCommand builds the replay-inspect command tree writing to out.
func NewRootCommand(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "replay-inspect",
		Short:         "Inspect recorded match replays",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	root.AddCommand(newDecodeCommand(out), newListCommand(out), newShowCommand(out))
	return root
}

func newDecodeCommand(out io.Writer) *cobra.Command {
	var packets bool

	cmd := &cobra.Command{
		Use:   "decode <file>",
		Short: "Decode a replay file",
		Long: `Decode a .gprec replay file and print one row per session.

With --packets every captured packet is listed with a payload preview.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecode(args[0], packets, out)
		},
	}
	cmd.Flags().BoolVarP(&packets, "packets", "p", false, "list every packet")
	return cmd
}

func newListCommand(out io.Writer) *cobra.Command {
	var (
		dbPath string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List archived replays",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(dbPath, limit, out)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "data/replays.db", "replay database path")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum number of replays")
	return cmd
}

func newShowCommand(out io.Writer) *cobra.Command {
	var (
		dbPath  string
		packets bool
		export  string
	)

	cmd := &cobra.Command{
		Use:   "show <match_id>",
		Short: "Decode the latest archived replay of a match",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			matchID, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid match id %q: %w", args[0], err)
			}
			return runShow(dbPath, uint32(matchID), packets, export, out)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "data/replays.db", "replay database path")
	cmd.Flags().BoolVarP(&packets, "packets", "p", false, "list every packet")
	cmd.Flags().StringVarP(&export, "export", "o", "", "also write the raw blob to this file")
	return cmd
}

func runDecode(path string, packets bool, w io.Writer) error {
	blob, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read replay: %w", err)
	}

	blocks, err := replay.Decode(blob)
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}

	fmt.Fprintf(w, "File: %s (%d bytes)\n", path, len(blob))
	renderBlocks(w, blocks, len(blob), packets)
	return nil
}

func runList(dbPath string, limit int, w io.Writer) error {
	rdb, err := openDatabase(dbPath)
	if err != nil {
		return err
	}
	defer rdb.Close()

	replays, err := rdb.List(limit)
	if err != nil {
		return err
	}

	if len(replays) == 0 {
		fmt.Fprintln(w, "No archived replays.")
		return nil
	}

	tw := tablewriter.NewWriter(w)
	tw.SetHeader([]string{"Match", "Lobby", "Replay ID", "Sessions", "Packets", "Size", "Archived"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, r := range replays {
		tw.Append([]string{
			strconv.FormatUint(uint64(r.MatchID), 10),
			strconv.FormatUint(uint64(r.LobbyID), 10),
			r.ID,
			strconv.Itoa(r.Sessions),
			strconv.Itoa(r.Packets),
			formatSize(r.Size),
			r.CreatedAt.Format(time.DateTime),
		})
	}

	tw.Render()
	return nil
}

func runShow(dbPath string, matchID uint32, packets bool, export string, w io.Writer) error {
	rdb, err := openDatabase(dbPath)
	if err != nil {
		return err
	}
	defer rdb.Close()

	stored, err := rdb.Latest(matchID)
	if err != nil {
		return err
	}

	if !stored.Verify() {
		return fmt.Errorf("replay %s failed checksum verification", stored.ID)
	}

	blocks, err := replay.Decode(stored.Blob)
	if err != nil {
		return fmt.Errorf("failed to decode replay %s: %w", stored.ID, err)
	}

	fmt.Fprintf(w, "Match %d, lobby %d, replay %s, archived %s\n",
		stored.MatchID, stored.LobbyID, stored.ID, stored.CreatedAt.Format(time.DateTime))
	renderBlocks(w, blocks, len(stored.Blob), packets)

	if export != "" {
		if err := os.WriteFile(export, stored.Blob, 0644); err != nil {
			return fmt.Errorf("failed to export replay: %w", err)
		}
		fmt.Fprintf(w, "Blob written to %s\n", export)
	}
	return nil
}

// openDatabase refuses to create a database that does not exist yet.
func openDatabase(path string) (*db.ReplayDatabase, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("replay database %s: %w", path, err)
	}
	return db.NewReplayDatabase(path)
}

func renderBlocks(w io.Writer, blocks []replay.SessionBlock, size int, packets bool) {
	summary := replay.Summarize(blocks, size)

	tw := tablewriter.NewWriter(w)
	tw.SetHeader([]string{"Session", "Inbound", "Outbound", "Payload"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	for _, s := range summary.Sessions {
		tw.Append([]string{
			strconv.FormatUint(uint64(s.SessionID), 10),
			strconv.Itoa(s.Inbound),
			strconv.Itoa(s.Outbound),
			formatSize(s.PayloadBytes),
		})
	}
	tw.SetFooter([]string{"Total", "", strconv.Itoa(summary.Packets), formatSize(summary.Bytes)})
	tw.Render()

	if !packets {
		return
	}

	for _, b := range blocks {
		fmt.Fprintf(w, "\nSession %d\n", b.SessionID)

		pt := tablewriter.NewWriter(w)
		pt.SetHeader([]string{"#", "Dir", "Type", "Size", "Payload"})
		pt.SetBorder(false)
		pt.SetAutoWrapText(false)
		for i, p := range b.Packets {
			dir := "out"
			if p.Inbound {
				dir = "in"
			}
			pt.Append([]string{
				strconv.Itoa(i),
				dir,
				fmt.Sprintf("0x%02X", p.Type),
				strconv.Itoa(len(p.Payload)),
				previewPayload(p.Payload),
			})
		}
		pt.Render()
	}
}

func previewPayload(payload []byte) string {
	if len(payload) <= maxPayloadPreview {
		return hex.EncodeToString(payload)
	}
	return hex.EncodeToString(payload[:maxPayloadPreview]) + "..."
}

// formatSize formats bytes into human-readable format.
func formatSize(n int) string {
	const (
		KB = 1024
		MB = KB * 1024
	)

	switch {
	case n >= MB:
		return fmt.Sprintf("%.2f MB", float64(n)/float64(MB))
	case n >= KB:
		return fmt.Sprintf("%.2f KB", float64(n)/float64(KB))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
