package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

func newContractID(now time.Time) string {
	return fmt.Sprintf("CT%d%s", now.Unix(), shortUUID())
}

func newApprovalID(now time.Time) string {
	return fmt.Sprintf("AP%d%s", now.Unix(), shortUUID())
}

func newSignatureID(now time.Time) string {
	return fmt.Sprintf("SG%d%s", now.Unix(), shortUUID())
}

func shortUUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
