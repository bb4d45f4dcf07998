//go:build linux

package alarm

import (
	"os"
	"os/signal"
	"time"

	"golang.org/x/sys/unix"
)

const supported = true

func setTimer(d time.Duration) error {
	_, err := unix.Setitimer(unix.ItimerReal, unix.Itimerval{Value: unix.NsecToTimeval(d.Nanoseconds())})
	return err
}

func remaining() (time.Duration, error) {
	it, err := unix.Getitimer(unix.ItimerReal)
	if err != nil {
		return 0, err
	}

	return time.Duration(it.Value.Nano()), nil
}

func notify(c chan<- os.Signal) {
	signal.Notify(c, unix.SIGALRM)
}
