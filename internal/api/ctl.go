package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/vspi-core/internal/audit"
	"github.com/nerrad567/vspi-core/internal/ctlbridge"
	"github.com/nerrad567/vspi-core/internal/ctlfs"
)

// CtlValue is the response to reading a single attribute.
type CtlValue struct {
	Device string `json:"device"`
	Entry  string `json:"entry"`
	Value  string `json:"value"`
}

// CtlListing is the response to reading a directory.
type CtlListing struct {
	Device  string        `json:"device,omitempty"`
	Entry   string        `json:"entry,omitempty"`
	Entries []ctlfs.Entry `json:"entries"`
}

// CtlWriteResult is the response to a successful write.
type CtlWriteResult struct {
	Device  string `json:"device"`
	Entry   string `json:"entry"`
	Written int    `json:"written"`
	Errno   int    `json:"errno"`
}

// splitCtlPath splits "bdf/entry/path" into the device and the entry below it.
func splitCtlPath(path string) (device, entry string) {
	path = strings.Trim(path, "/")
	device, entry, _ = strings.Cut(path, "/")
	return device, entry
}

// handleCtlRead reads an attribute or lists a directory of the control-plane
// namespace. GET /ctl lists the devices.
func (s *Server) handleCtlRead(w http.ResponseWriter, r *http.Request) {
	device, entry := splitCtlPath(chi.URLParam(r, "*"))
	if device == "" {
		entries, err := s.framework.Root().List("")
		if err != nil {
			writeCtlError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, CtlListing{Entries: entries})
		return
	}

	if entry != "" {
		value, err := s.writer.Read(device, entry)
		if err == nil {
			writeJSON(w, http.StatusOK, CtlValue{Device: device, Entry: entry, Value: value})
			return
		}
		if !errors.Is(err, ctlfs.ErrIsDir) {
			writeCtlError(w, err)
			return
		}
	}

	entries, err := s.writer.List(device, entry)
	if err != nil {
		writeCtlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CtlListing{Device: device, Entry: entry, Entries: entries})
}

// handleCtlWrite stores the request body into an attribute. The body is
// passed through as text, a trailing newline is accepted.
func (s *Server) handleCtlWrite(w http.ResponseWriter, r *http.Request) {
	device, entry := splitCtlPath(chi.URLParam(r, "*"))
	if device == "" || entry == "" {
		writeBadRequest(w, "path must be /ctl/{bdf}/{entry}")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "reading request body: "+err.Error())
		return
	}

	subject := ""
	if claims := claimsFromContext(r.Context()); claims != nil {
		subject = claims.Subject
	}

	out := s.writer.Write(ctlbridge.Request{
		Device:  device,
		Entry:   entry,
		Value:   string(body),
		Source:  audit.SourceAPI,
		Subject: subject,
	})
	if !out.OK() {
		writeCtlError(w, out.Err)
		return
	}

	writeJSON(w, http.StatusOK, CtlWriteResult{
		Device:  out.Device.String(),
		Entry:   out.Entry,
		Written: out.Written,
		Errno:   0,
	})
}
