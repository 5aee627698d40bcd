// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package http exposes the management API: node inventory, offline queue
// inspection, audit trail reads, and server-originated broadcasts.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/absmach/meshrelay/broker"
	"github.com/absmach/meshrelay/frames"
	"github.com/absmach/meshrelay/storage"
)

type Config struct {
	Address         string
	ShutdownTimeout time.Duration
}

type Server struct {
	config Config
	broker *broker.Broker
	logger *slog.Logger
	server *http.Server
}

func New(cfg Config, b *broker.Broker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config: cfg,
		broker: b,
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/nodes", s.handleNodes)
	mux.HandleFunc("/nodes/", s.handleNode)
	mux.HandleFunc("/broadcast", s.handleBroadcast)
	mux.HandleFunc("/audit", s.handleAudit)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Addr:    cfg.Address,
		Handler: mux,
	}

	return s
}

func (s *Server) Listen(ctx context.Context) error {
	s.logger.Info("management_server_starting", slog.String("addr", s.config.Address))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("management_server_shutdown_error", slog.String("error", err.Error()))
			return err
		}

		s.logger.Info("management_server_stopped")
		return nil
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// NodeListResponse is the node inventory payload.
type NodeListResponse struct {
	Total int               `json:"total"`
	Nodes []frames.NodeInfo `json:"nodes"`
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	nodes := s.broker.Registry().Nodes()
	infos := make([]frames.NodeInfo, 0, len(nodes))
	for _, n := range nodes {
		infos = append(infos, n.Info())
	}

	writeJSON(w, http.StatusOK, NodeListResponse{
		Total: len(infos),
		Nodes: infos,
	})
}

// NodeDetailResponse describes a single node and its offline queue depth.
type NodeDetailResponse struct {
	frames.NodeInfo
	QueuedMessages int `json:"queuedMessages"`
}

// QueueResponse lists a node's pending offline messages without consuming
// them. The queue is drained only by the node's own reconnect.
type QueueResponse struct {
	NodeID   string             `json:"nodeId"`
	Total    int                `json:"total"`
	Messages []*storage.Message `json:"messages"`
}

// handleNode serves /nodes/{id} and /nodes/{id}/queue.
func (s *Server) handleNode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/nodes/")
	nodeID, sub, _ := strings.Cut(rest, "/")
	if nodeID == "" {
		http.Error(w, "node id is required", http.StatusBadRequest)
		return
	}

	switch sub {
	case "":
		node, ok := s.broker.Registry().Lookup(nodeID)
		if !ok {
			http.Error(w, "node not found", http.StatusNotFound)
			return
		}

		queued, err := s.broker.Store().Queue().Len(nodeID)
		if err != nil {
			s.logger.Error("queue_len_failed", slog.String("node_id", nodeID), slog.String("error", err.Error()))
			http.Error(w, "queue read failed", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, NodeDetailResponse{
			NodeInfo:       node.Info(),
			QueuedMessages: queued,
		})

	case "queue":
		msgs, err := s.broker.Store().Queue().Peek(nodeID)
		if err != nil {
			s.logger.Error("queue_peek_failed", slog.String("node_id", nodeID), slog.String("error", err.Error()))
			http.Error(w, "queue read failed", http.StatusInternalServerError)
			return
		}
		if msgs == nil {
			msgs = []*storage.Message{}
		}

		writeJSON(w, http.StatusOK, QueueResponse{
			NodeID:   nodeID,
			Total:    len(msgs),
			Messages: msgs,
		})

	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

type broadcastRequest struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// BroadcastResponse reports how many nodes received the broadcast.
type BroadcastResponse struct {
	Delivered int `json:"delivered"`
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}

	if req.Type == "" {
		http.Error(w, "type is required", http.StatusBadRequest)
		return
	}

	delivered := s.broker.Broadcast("server", frames.Send{
		Type:    req.Type,
		Payload: req.Payload,
	})

	s.logger.Debug("management_broadcast",
		slog.String("type", req.Type),
		slog.Int("delivered", delivered))

	writeJSON(w, http.StatusOK, BroadcastResponse{Delivered: delivered})
}

// AuditResponse returns recent routing decisions, most recent first.
type AuditResponse struct {
	Total   int                  `json:"total"`
	Entries []*storage.AuditEntry `json:"entries"`
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := s.broker.Store().Audit().Recent(limit)
	if err != nil {
		s.logger.Error("audit_read_failed", slog.String("error", err.Error()))
		http.Error(w, "audit read failed", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*storage.AuditEntry{}
	}

	writeJSON(w, http.StatusOK, AuditResponse{
		Total:   len(entries),
		Entries: entries,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
