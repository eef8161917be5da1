package api

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

const maxCodeBytes = 1 << 20 // 1 MiB per fragment

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// validateSessionID requires UUID-shaped session ids.
func validateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("session id must not be empty")
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid session id: %s", id)
	}
	return nil
}

func validateExecRequest(req execRequest) error {
	if req.Code == "" {
		return fmt.Errorf("code must not be empty")
	}
	if len(req.Code) > maxCodeBytes {
		return fmt.Errorf("code exceeds %d bytes", maxCodeBytes)
	}
	if req.ResultVar != "" && !identifierRe.MatchString(req.ResultVar) {
		return fmt.Errorf("result_var is not a valid identifier: %s", req.ResultVar)
	}
	return nil
}

func validateCreateSessionRequest(req createSessionRequest) error {
	for hostPath, vol := range req.Volumes {
		if hostPath == "" || vol.Bind == "" {
			return fmt.Errorf("volume entries need a host path and a bind path")
		}
		if vol.Mode != "" && vol.Mode != "ro" && vol.Mode != "rw" {
			return fmt.Errorf("volume mode must be ro or rw: %s", vol.Mode)
		}
	}
	return nil
}
