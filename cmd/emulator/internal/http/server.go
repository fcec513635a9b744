// Copyright 2024 Google LLC. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package http contains private implementation details for the emulator's
// boot manager endpoints.
package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/c2a-monazite/dualboot/bootmeta"
	"github.com/c2a-monazite/dualboot/btmgr"
	"github.com/golang/glog"
	"github.com/gorilla/mux"
)

const (
	// HTTPStatus is the path of the boot manager status.
	HTTPStatus = "/btmgr/v0/status"
	// HTTPNextBootBank is the path used to request a bank, formatted with
	// the requested bank code.
	HTTPNextBootBank = "/btmgr/v0/next_boot_bank/%s"
	// HTTPSystemReset is the path which resets the emulated processor.
	HTTPSystemReset = "/btmgr/v0/system_reset"
)

// BootManager is the subset of btmgr.Manager exposed over HTTP.
type BootManager interface {
	CurrentBootBank() bootmeta.BootBank
	NextBootBank() bootmeta.NextBootBank
	CodeSetNextBootBank(v int32) int32
	ResetCause() btmgr.ResetCause
	SystemReset()
}

// Status is the JSON representation of the boot manager state.
type Status struct {
	CurrentBootBank string `json:"current_boot_bank"`
	NextBootBank    string `json:"next_boot_bank"`
	ResetReason     string `json:"reset_reason"`
	ResetFlag       uint32 `json:"reset_flag"`
}

// Server is the core handler implementation of the boot manager endpoints.
type Server struct {
	m BootManager
}

// NewServer creates a new server.
func NewServer(m BootManager) *Server {
	return &Server{
		m: m,
	}
}

// getStatus returns the boot manager state.
func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	c := s.m.ResetCause()
	st := Status{
		CurrentBootBank: s.m.CurrentBootBank().String(),
		NextBootBank:    s.m.NextBootBank().String(),
		ResetReason:     c.Reason.String(),
		ResetFlag:       c.Raw,
	}
	body, err := json.Marshal(st)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to convert status to JSON: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/json")
	if _, err := w.Write(body); err != nil {
		glog.Errorf("w.Write(): %v", err)
	}
}

// setNextBootBank handles requests to change the bank booted after the next
// reset.
func (s *Server) setNextBootBank(w http.ResponseWriter, r *http.Request) {
	v, err := strconv.ParseInt(mux.Vars(r)["bank"], 10, 32)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to parse bank: %v", err), http.StatusBadRequest)
		return
	}
	if code := s.m.CodeSetNextBootBank(int32(v)); code != btmgr.OK {
		http.Error(w, fmt.Sprintf("invalid bank %d", v), http.StatusBadRequest)
		return
	}
}

// systemReset asks the processor to reset.
func (s *Server) systemReset(w http.ResponseWriter, r *http.Request) {
	s.m.SystemReset()
	w.WriteHeader(http.StatusAccepted)
}

// RegisterHandlers registers HTTP handlers for the boot manager endpoints.
func (s *Server) RegisterHandlers(r *mux.Router) {
	r.HandleFunc(HTTPStatus, s.getStatus).Methods("GET")
	r.HandleFunc(fmt.Sprintf(HTTPNextBootBank, "{bank:-?\\d+}"), s.setNextBootBank).Methods("PUT")
	r.HandleFunc(HTTPSystemReset, s.systemReset).Methods("POST")
}
