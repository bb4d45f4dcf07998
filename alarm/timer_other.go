//go:build !linux

package alarm

import (
	"os"
	"time"
)

const supported = false

func setTimer(time.Duration) error {
	return ErrUnsupported
}

func remaining() (time.Duration, error) {
	return 0, ErrUnsupported
}

func notify(chan<- os.Signal) {}
