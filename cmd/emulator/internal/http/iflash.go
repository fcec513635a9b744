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

package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/c2a-monazite/dualboot/iflash"
	"github.com/golang/glog"
	"github.com/gorilla/mux"
)

const (
	// HTTPFlashStatus is the path of the inactive bank status.
	HTTPFlashStatus = "/iflash/v0/status"
	// HTTPFlashErase is the path which starts erasing the inactive bank.
	HTTPFlashErase = "/iflash/v0/erase"
	// HTTPFlashProgram is the path which starts programming the request body
	// into the inactive bank, formatted with the offset.
	HTTPFlashProgram = "/iflash/v0/program/%s"
)

// InternalFlash is the integer interface of iflash.Flash exposed over HTTP.
type InternalFlash interface {
	CodeErase() int32
	CodeProgram(offset uint32, data []byte) int32
	CodeStatus() int32
}

// FlashStatus is the JSON representation of the inactive bank status.
type FlashStatus struct {
	Code int32 `json:"code"`
}

// FlashServer serves the inactive bank endpoints.
type FlashServer struct {
	f InternalFlash
}

// NewFlashServer creates a new server.
func NewFlashServer(f InternalFlash) *FlashServer {
	return &FlashServer{
		f: f,
	}
}

// writeCode maps a status code returned when starting an operation to an
// HTTP status.
func writeCode(w http.ResponseWriter, code int32) {
	switch code {
	case iflash.OK:
		w.WriteHeader(http.StatusAccepted)
	case iflash.Busy:
		http.Error(w, "operation in progress", http.StatusConflict)
	case iflash.NotAligned, iflash.OutOfBounds:
		http.Error(w, fmt.Sprintf("invalid request: %d", code), http.StatusBadRequest)
	default:
		http.Error(w, fmt.Sprintf("flash error: %d", code), http.StatusInternalServerError)
	}
}

// getStatus returns the status code of the last operation.
func (s *FlashServer) getStatus(w http.ResponseWriter, r *http.Request) {
	body, err := json.Marshal(FlashStatus{Code: s.f.CodeStatus()})
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to convert status to JSON: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/json")
	if _, err := w.Write(body); err != nil {
		glog.Errorf("w.Write(): %v", err)
	}
}

// erase starts erasing the inactive bank.
func (s *FlashServer) erase(w http.ResponseWriter, r *http.Request) {
	writeCode(w, s.f.CodeErase())
}

// program starts programming the request body.
func (s *FlashServer) program(w http.ResponseWriter, r *http.Request) {
	offset, err := strconv.ParseUint(mux.Vars(r)["offset"], 10, 32)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to parse offset: %v", err), http.StatusBadRequest)
		return
	}
	// Anything longer is rejected by CodeProgram.
	data, err := io.ReadAll(io.LimitReader(r.Body, iflash.MaxProgram+1))
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read body: %v", err), http.StatusBadRequest)
		return
	}
	writeCode(w, s.f.CodeProgram(uint32(offset), data))
}

// RegisterHandlers registers HTTP handlers for the inactive bank endpoints.
func (s *FlashServer) RegisterHandlers(r *mux.Router) {
	r.HandleFunc(HTTPFlashStatus, s.getStatus).Methods("GET")
	r.HandleFunc(HTTPFlashErase, s.erase).Methods("POST")
	r.HandleFunc(fmt.Sprintf(HTTPFlashProgram, "{offset:\\d+}"), s.program).Methods("PUT")
}
