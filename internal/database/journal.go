package database

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/MoldoAndr/EL8S-Shop/internal/chat"
	"github.com/spf13/afero"
)

var _ Gateway = (*JournalGateway)(nil)

// JournalGateway appends messages as JSON lines to a single file. Appends are
// serialized, so line order is insertion order.
type JournalGateway struct {
	fs   afero.Fs
	path string
	mu   sync.Mutex
}

// NewJournalGateway creates a journal at path on fsys. Use afero.NewMemMapFs
// in tests and afero.NewOsFs in production.
func NewJournalGateway(fsys afero.Fs, path string) *JournalGateway {
	return &JournalGateway{fs: fsys, path: path}
}

// InsertOne implements Gateway.
func (g *JournalGateway) InsertOne(ctx context.Context, msg chat.Message) (string, error) {
	if !msg.Persistable() {
		return "", NewDBError(ErrInvalidInput, "insert message: only chat and system messages are stored")
	}
	if msg.ID == "" {
		msg.ID = chat.NewID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	line, err := json.Marshal(msg)
	if err != nil {
		return "", NewDBError(fmt.Errorf("%w: %w", ErrInvalidInput, err), "encode message")
	}
	line = append(line, '\n')

	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.fs.MkdirAll(filepath.Dir(g.path), 0o755); err != nil {
		return "", queryFailed(err, "create journal directory")
	}
	f, err := g.fs.OpenFile(g.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", queryFailed(err, "open journal")
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return "", queryFailed(err, "append message")
	}
	return msg.ID, nil
}

// FindAllOrderedByTimestampAscending implements Gateway. A missing journal is
// an empty log; lines that do not decode are skipped and logged.
func (g *JournalGateway) FindAllOrderedByTimestampAscending(ctx context.Context) ([]chat.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	f, err := g.fs.Open(g.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []chat.Message{}, nil
	}
	if err != nil {
		return nil, queryFailed(err, "open journal")
	}
	defer f.Close()

	msgs := []chat.Message{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var msg chat.Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			slog.WarnContext(ctx, "Skipping undecodable journal line", "event", "store_entry_invalid",
				"path", g.path, "line", lineNo, "error", err)
			continue
		}
		msgs = append(msgs, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, queryFailed(err, "read journal")
	}
	return msgs, nil
}

// Ping implements Gateway by making sure the journal directory is usable.
func (g *JournalGateway) Ping(ctx context.Context) error {
	dir := filepath.Dir(g.path)
	if err := g.fs.MkdirAll(dir, 0o755); err != nil {
		return NewDBError(fmt.Errorf("%w: %w", ErrNotConnected, err), "journal directory unavailable")
	}
	info, err := g.fs.Stat(dir)
	if err != nil {
		return NewDBError(fmt.Errorf("%w: %w", ErrNotConnected, err), "journal directory unavailable")
	}
	if !info.IsDir() {
		return NewDBError(ErrNotConnected, fmt.Sprintf("journal parent %s is not a directory", dir))
	}
	return nil
}

// Close implements Gateway. Files are opened per call, so there is nothing to release.
func (g *JournalGateway) Close(ctx context.Context) error {
	return nil
}
