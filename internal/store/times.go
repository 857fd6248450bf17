package store

import (
	"time"

	"github.com/pathwatch/pathwatch-engine/internal/utils"
)

func formatTS(t time.Time) string { return utils.FormatTS(t) }

func parseTS(value string) (time.Time, error) { return utils.ParseTS(value) }
