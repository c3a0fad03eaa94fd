package loadgen

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Workload selects the request mix each load thread issues.
type Workload string

const (
	// WorkloadPutAll is write heavy: 70% creates of fresh keys, 30% deletes.
	WorkloadPutAll Workload = "put_all"
	// WorkloadGetAll reads uniformly over the key space (mostly cache misses).
	WorkloadGetAll Workload = "get_all"
	// WorkloadGetPopular reads a small hot set (mostly cache hits).
	WorkloadGetPopular Workload = "get_popular"
	// WorkloadGetMix is 30% create, 60% read, 10% delete.
	WorkloadGetMix Workload = "get_mix"
)

var workloads = []Workload{WorkloadPutAll, WorkloadGetAll, WorkloadGetPopular, WorkloadGetMix}

func ParseWorkload(raw string) (Workload, error) {
	w := Workload(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range workloads {
		if w == known {
			return w, nil
		}
	}
	return "", fmt.Errorf("unknown workload %q (want put_all, get_all, get_popular or get_mix)", raw)
}

// Prepopulates reports whether the workload seeds keys before the timed run.
func (w Workload) Prepopulates() bool {
	return w == WorkloadGetAll || w == WorkloadGetPopular
}

type Config struct {
	BaseURL  string
	Workload Workload
	Threads  int

	// Duration of the timed phase.
	// Default: 30s
	Duration time.Duration

	// KeySpace is the number of distinct key_N keys.
	// Default: 10000
	KeySpace int

	// PopularSize is the number of popular_N hot keys.
	// Default: 20
	PopularSize int

	// Rate caps total requests per second across all threads. 0 means unlimited.
	Rate float64

	// SkipPrepopulate disables seeding for get_all and get_popular.
	SkipPrepopulate bool

	// RequestTimeout bounds each HTTP request.
	// Default: 5s
	RequestTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Duration <= 0 {
		c.Duration = 30 * time.Second
	}
	if c.KeySpace <= 0 {
		c.KeySpace = 10000
	}
	if c.PopularSize <= 0 {
		c.PopularSize = 20
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 5 * time.Second
	}
	if w, err := ParseWorkload(string(c.Workload)); err == nil {
		c.Workload = w
	}
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	return c
}

func (c Config) validate() error {
	if c.BaseURL == "" {
		return errors.New("base url is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid base url %q", c.BaseURL)
	}
	if _, err := ParseWorkload(string(c.Workload)); err != nil {
		return err
	}
	if c.Threads <= 0 {
		return fmt.Errorf("threads must be positive, got %d", c.Threads)
	}
	if c.Rate < 0 {
		return fmt.Errorf("rate must not be negative, got %v", c.Rate)
	}
	return nil
}
