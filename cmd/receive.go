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

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/radiogear/paxterm/pkg/axdp"
	"github.com/radiogear/paxterm/pkg/link"
)

var (
	receiveOutputDir string
	receiveMaxSize   uint64
)

var receiveCmd = &cobra.Command{
	Use:   "receive",
	Short: "Accept incoming connections and receive files",
	Long: `Listen for incoming connected-mode links and receive file transfers.

Any station may connect; offered files are accepted automatically and
written to the output directory once every chunk has arrived and the
file hash verifies. Offers larger than --max-size are rejected. Chat
messages from connected stations are printed to the console.

The command runs until interrupted.`,
	RunE: runReceive,
}

func init() {
	rootCmd.AddCommand(receiveCmd)
	receiveCmd.Flags().StringVar(&receiveOutputDir, "output-dir", ".", "Directory to write received files into")
	receiveCmd.Flags().Uint64Var(&receiveMaxSize, "max-size", 16<<20, "Reject file offers larger than this many bytes")
}

// recvSession is the application state for one connected peer.
type recvSession struct {
	neg      axdp.Negotiated
	inbound  *axdp.Inbound
	chatDup  *axdp.DupTracker
	haveCaps bool
}

func runReceive(cmd *cobra.Command, args []string) error {
	local, err := localStation()
	if err != nil {
		return err
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Paxterm - Receive\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Station: %s\n", local)
	fmt.Printf("Output: %s\n", receiveOutputDir)
	fmt.Printf("Waiting for connections; press Ctrl+C to exit\n\n")

	sessions := make(map[link.SessionKey]*recvSession)
	var e *engine

	// session fetches or creates per-peer application state. Only
	// called from the engine loop.
	session := func(key link.SessionKey) *recvSession {
		rs, ok := sessions[key]
		if !ok {
			rs = &recvSession{
				neg:     axdp.Negotiate(axdp.LocalCapabilities(), axdp.Capabilities{ProtoMax: axdp.ProtoVersion}),
				chatDup: axdp.NewDupTracker(1024),
			}
			sessions[key] = rs
		}
		return rs
	}

	reply := func(key link.SessionKey, m *axdp.Message) {
		if err := e.Mgr.SendData(key, m.Encode()); err != nil {
			log.WithError(err).Error("Reply failed")
		}
	}

	cb := link.Callbacks{
		OnStateChange: func(key link.SessionKey, state link.State, reason string) {
			entry := log.WithField("peer", key.String())
			switch state {
			case link.StateConnected:
				entry.Info("Station connected")
			case link.StateDisconnected:
				entry.Info("Station disconnected")
				delete(sessions, key)
			case link.StateError:
				entry.WithField("reason", reason).Warn("Link error")
				delete(sessions, key)
			}
		},
		OnData: func(key link.SessionKey, payload []byte) {
			rs := session(key)
			for len(payload) > 0 {
				msg, n, err := axdp.DecodeMessage(payload)
				if err != nil {
					log.WithError(err).Debug("unparseable application data")
					return
				}
				handleReceiveMessage(key, rs, msg, reply)
				payload = payload[n:]
			}
		},
	}

	e = newEngine(conn, local, sessionConfig(), cb)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	err = e.run(ctx)
	if ctx.Err() != nil {
		fmt.Printf("\nShutting down\n")
		return nil
	}
	return err
}

// handleReceiveMessage dispatches one application message for a peer.
// Runs on the engine loop, so replies go out synchronously.
func handleReceiveMessage(key link.SessionKey, rs *recvSession, msg *axdp.Message, reply func(link.SessionKey, *axdp.Message)) {
	peerLog := log.WithField("peer", key.String())

	switch msg.Type {
	case axdp.MsgPing:
		pong := &axdp.Message{Type: axdp.MsgPong, SessionID: msg.SessionID, MessageID: msg.MessageID}
		if msg.Capabilities != nil {
			localCaps := axdp.LocalCapabilities()
			rs.neg = axdp.Negotiate(localCaps, *msg.Capabilities)
			rs.haveCaps = true
			pong.Capabilities = &localCaps
			peerLog.WithFields(logrus.Fields{
				"version":     rs.neg.Version,
				"compression": rs.neg.CompressionEnabled(),
			}).Info("Capabilities negotiated")
		}
		reply(key, pong)

	case axdp.MsgChat:
		if rs.chatDup.Seen(msg.SessionID, msg.MessageID) {
			return
		}
		fmt.Printf("<%s> %s\n", key, msg.Payload)

	case axdp.MsgFileMetadata:
		in, err := axdp.NewInbound(msg, rs.neg)
		if err != nil {
			peerLog.WithError(err).Warn("Bad file offer")
			return
		}
		if in.Meta.Size > receiveMaxSize {
			peerLog.WithField("size", in.Meta.Size).Warn("File offer too large; rejecting")
			if m, err := in.Reject("file too large"); err == nil {
				reply(key, m)
			}
			return
		}
		accept, err := in.Accept()
		if err != nil {
			peerLog.WithError(err).Error("Accept failed")
			return
		}
		rs.inbound = in
		peerLog.WithFields(logrus.Fields{
			"file":   in.Meta.Name,
			"size":   in.Meta.Size,
			"chunks": in.TotalChunks(),
		}).Info("Receiving file")
		reply(key, accept)

	case axdp.MsgFileChunk:
		if rs.inbound == nil {
			peerLog.Debug("chunk without transfer; ignoring")
			return
		}
		resp, err := rs.inbound.HandleChunk(msg)
		if err != nil {
			peerLog.WithError(err).Warn("Bad chunk")
		}
		if resp != nil {
			reply(key, resp)
		}
		switch rs.inbound.State() {
		case axdp.TransferCompleted:
			writeReceivedFile(peerLog, rs.inbound)
			rs.inbound = nil
		case axdp.TransferFailed:
			peerLog.WithField("reason", rs.inbound.Reason()).Error("Transfer failed")
			rs.inbound = nil
		}
	}
}

func writeReceivedFile(peerLog *logrus.Entry, in *axdp.Inbound) {
	data, err := in.Data()
	if err != nil {
		peerLog.WithError(err).Error("Transfer unreadable")
		return
	}
	// filepath.Base strips any path the sender smuggled into the name.
	name := filepath.Base(in.Meta.Name)
	if name == "." || name == string(filepath.Separator) {
		name = "received.bin"
	}
	dest := filepath.Join(receiveOutputDir, name)
	if err := os.WriteFile(dest, data, 0644); err != nil {
		peerLog.WithError(err).WithField("file", dest).Error("Write failed")
		return
	}
	peerLog.WithFields(logrus.Fields{
		"file":  dest,
		"bytes": len(data),
	}).Info("File received")
}
