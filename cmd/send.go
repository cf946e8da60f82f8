// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Radiogear Labs

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/radiogear/paxterm/pkg/ax25"
	"github.com/radiogear/paxterm/pkg/axdp"
	"github.com/radiogear/paxterm/pkg/link"
)

var (
	sendChunkSize   uint32
	sendDescription string
	sendWatchDir    string
	sendAckTimeout  time.Duration
	sendWindow      int
)

var sendCmd = &cobra.Command{
	Use:   "send <remote-callsign> [file]",
	Short: "Send a file to a remote station",
	Long: `Send a file over a connected-mode link using chunked, resumable
transfer with selective acknowledgment.

The receiver must be running 'paxterm receive'. Before the first
transfer the two stations negotiate protocol capabilities; when both
sides support it, chunks are compressed in flight. Chunks the receiver
reports missing are retransmitted until the receiver confirms the
complete file against its hash.

With --watch-dir, instead of sending a single file, the given directory
is watched and every file created in it is sent as it appears. The
command then runs until interrupted.

Exit codes:
  0 - Transfer(s) completed
  1 - Transfer failed or rejected
  2 - Connection or link establishment error`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().Uint32Var(&sendChunkSize, "chunk-size", 1024, "Chunk payload size in bytes")
	sendCmd.Flags().StringVar(&sendDescription, "description", "", "Free-text description sent with the file")
	sendCmd.Flags().StringVar(&sendWatchDir, "watch-dir", "", "Watch a directory and send every file created in it")
	sendCmd.Flags().DurationVar(&sendAckTimeout, "ack-timeout", 60*time.Second, "How long to wait for acknowledgments before probing")
	sendCmd.Flags().IntVar(&sendWindow, "transfer-window", 4, "Chunks in flight before waiting for acknowledgment")
}

// decodeInto returns a data callback that parses back-to-back
// application messages into inbox. It runs on the engine loop, so it
// must never block: a message dropped on a full inbox is recovered by
// the ack-timeout resend path.
func decodeInto(inbox chan *axdp.Message) func(link.SessionKey, []byte) {
	return func(_ link.SessionKey, payload []byte) {
		for len(payload) > 0 {
			msg, n, err := axdp.DecodeMessage(payload)
			if err != nil {
				log.WithError(err).Debug("unparseable application data")
				return
			}
			select {
			case inbox <- msg:
			default:
				log.Debug("inbox full, dropping peer message")
			}
			payload = payload[n:]
		}
	}
}

// sendPeer bundles the engine-side context a transfer needs.
type sendPeer struct {
	e     *engine
	key   link.SessionKey
	inbox chan *axdp.Message
	neg   axdp.Negotiated
}

func runSend(cmd *cobra.Command, args []string) error {
	if sendWatchDir == "" && len(args) < 2 {
		return fmt.Errorf("either a file argument or --watch-dir is required")
	}

	local, err := localStation()
	if err != nil {
		return err
	}
	remote, err := ax25.ParseAddress(args[0])
	if err != nil {
		return fmt.Errorf("invalid remote callsign %q: %v", args[0], err)
	}
	path, err := viaAddresses()
	if err != nil {
		return err
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Paxterm - File Send\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Link: %s -> %s\n\n", local, remote)

	connected := make(chan string, 1)
	inbox := make(chan *axdp.Message, 64)

	cb := link.Callbacks{
		OnStateChange: func(key link.SessionKey, state link.State, reason string) {
			switch state {
			case link.StateConnected:
				select {
				case connected <- "":
				default:
				}
			case link.StateDisconnected, link.StateError:
				msg := reason
				if msg == "" {
					msg = "link " + state.String()
				}
				select {
				case connected <- msg:
				default:
				}
			}
		},
		OnData: decodeInto(inbox),
	}

	e := newEngine(conn, local, sessionConfig(), cb)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = e.run(ctx) }()

	var key link.SessionKey
	e.do(func() {
		key, err = e.Mgr.Connect(remote, path, channel)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connect error: %v\n", err)
		os.Exit(2)
	}

	select {
	case reason := <-connected:
		if reason != "" {
			fmt.Fprintf(os.Stderr, "Link failed: %s\n", reason)
			os.Exit(2)
		}
		fmt.Printf("Link established\n")
	case <-time.After(60 * time.Second):
		fmt.Fprintf(os.Stderr, "TIMEOUT: link not established\n")
		os.Exit(2)
	}

	peer := &sendPeer{e: e, key: key, inbox: inbox}
	peer.neg = negotiateCapabilities(peer, remote.String())

	defer e.do(func() { _ = e.Mgr.Disconnect(key) })

	if sendWatchDir != "" {
		return watchAndSend(peer, connected)
	}
	if err := sendOneFile(peer, args[1]); err != nil {
		fmt.Fprintf(os.Stderr, "Transfer failed: %v\n", err)
		os.Exit(1)
	}
	return nil
}

// capCache spans transfers within one process run.
var capCache = axdp.NewCapabilityCache(time.Hour)

// negotiateCapabilities performs the capability handshake, falling
// back to a featureless agreement when the peer does not answer one.
func negotiateCapabilities(p *sendPeer, peerName string) axdp.Negotiated {
	if neg, ok := capCache.Lookup(peerName); ok {
		return neg
	}

	localCaps := axdp.LocalCapabilities()
	probe := &axdp.Message{
		Type:         axdp.MsgPing,
		SessionID:    uint32(time.Now().Unix()),
		Capabilities: &localCaps,
	}
	var sendErr error
	p.e.do(func() { sendErr = p.e.Mgr.SendData(p.key, probe.Encode()) })
	if sendErr != nil {
		return axdp.Negotiated{Version: axdp.ProtoVersion}
	}

	deadline := time.After(30 * time.Second)
	for {
		select {
		case msg := <-p.inbox:
			if msg.Type == axdp.MsgPong && msg.Capabilities != nil {
				neg := axdp.Negotiate(localCaps, *msg.Capabilities)
				capCache.Store(peerName, neg)
				log.WithFields(logrus.Fields{
					"version":     neg.Version,
					"compression": neg.CompressionEnabled(),
					"chunk_limit": neg.MaxChunkLen,
				}).Info("Capabilities negotiated")
				return neg
			}
		case <-deadline:
			log.Warn("No capability response; proceeding without negotiated features")
			return axdp.Negotiated{Version: axdp.ProtoVersion}
		}
	}
}

func sendOneFile(p *sendPeer, filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	name := filepath.Base(filePath)

	out := axdp.NewOutbound(uint32(time.Now().UnixNano()), name, sendDescription, data, sendChunkSize, p.neg)
	fmt.Printf("\nSending %s (%d bytes, %d chunks)\n", name, len(data), out.TotalChunks())

	meta, err := out.Start()
	if err != nil {
		return err
	}
	if err := p.send(meta); err != nil {
		return err
	}

	inFlight := 0
	lastReport := uint32(0)

	for {
		// Fill the transfer window while the receiver keeps up.
		for inFlight < sendWindow {
			chunk, ok := out.NextChunk()
			if !ok {
				break
			}
			if err := p.send(chunk); err != nil {
				return err
			}
			inFlight++
		}

		switch out.State() {
		case axdp.TransferCompleted:
			fmt.Printf("Transfer complete: %s\n", name)
			return nil
		case axdp.TransferFailed:
			return fmt.Errorf("%s", out.Reason())
		}

		select {
		case msg := <-p.inbox:
			switch msg.Type {
			case axdp.MsgAck:
				if err := out.HandleAck(msg); err != nil {
					return err
				}
				if msg.MessageID != axdp.CompletionID && msg.MessageID != 0 {
					if inFlight > 0 {
						inFlight--
					}
				}
				if acked := out.AckedChunks(); acked >= lastReport+out.TotalChunks()/10+1 {
					lastReport = acked
					log.WithFields(logrus.Fields{
						"acked": acked,
						"total": out.TotalChunks(),
					}).Info("Transfer progress")
				}
			case axdp.MsgNack:
				if err := out.HandleNack(msg); err != nil {
					return fmt.Errorf("%s", out.Reason())
				}
			}
		case <-time.After(sendAckTimeout):
			if out.State() == axdp.TransferAwaitingCompletion || out.State() == axdp.TransferSending {
				n := out.ResendMissing()
				if out.State() == axdp.TransferFailed {
					return fmt.Errorf("%s", out.Reason())
				}
				if n == 0 {
					return fmt.Errorf("no acknowledgment from receiver in %s", sendAckTimeout)
				}
				log.WithField("chunks", n).Warn("Acknowledgment overdue; retransmitting missing chunks")
				inFlight = 0
			} else {
				return fmt.Errorf("transfer stalled in state %s", out.State())
			}
		}
	}
}

func (p *sendPeer) send(m *axdp.Message) error {
	var err error
	p.e.do(func() { err = p.e.Mgr.SendData(p.key, m.Encode()) })
	return err
}

// watchAndSend sends every file created under the watched directory.
// A short settle delay lets the writer finish before the file is read.
func watchAndSend(p *sendPeer, linkDown chan string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(sendWatchDir); err != nil {
		return fmt.Errorf("cannot watch %s: %v", sendWatchDir, err)
	}
	fmt.Printf("Watching %s for new files...\n", sendWatchDir)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) {
				continue
			}
			info, err := os.Stat(event.Name)
			if err != nil || info.IsDir() {
				continue
			}
			time.Sleep(500 * time.Millisecond)
			log.WithField("file", event.Name).Info("New file detected")
			if err := sendOneFile(p, event.Name); err != nil {
				log.WithError(err).WithField("file", event.Name).Error("Transfer failed")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Error("Watcher error")
		case reason := <-linkDown:
			if reason == "" {
				continue // reconnect notification, not a failure
			}
			return fmt.Errorf("link lost: %s", reason)
		case <-sigCh:
			fmt.Printf("\nStopping watch\n")
			return nil
		}
	}
}
