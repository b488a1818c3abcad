package config

import (
	"fmt"
	"strings"

	"github.com/animus-labs/jobscraper/internal/domain"
)

// ConfigurationError lists every missing or invalid deployment input at once.
type ConfigurationError struct {
	Issues []string
}

func (e *ConfigurationError) Error() string {
	if len(e.Issues) == 0 {
		return "configuration error"
	}
	return "configuration error: " + strings.Join(e.Issues, "; ")
}

func (e *ConfigurationError) Unwrap() error { return domain.ErrConfiguration }

func (e *ConfigurationError) add(format string, args ...any) {
	e.Issues = append(e.Issues, fmt.Sprintf(format, args...))
}

func (e *ConfigurationError) orNil() error {
	if e == nil || len(e.Issues) == 0 {
		return nil
	}
	return e
}
