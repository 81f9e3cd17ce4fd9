package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/banshee-data/gazeselect/internal/calibration"
)

// askYesNo prints question and reads answers from in until one is y or n.
func askYesNo(in *bufio.Reader, out io.Writer, question string) (bool, error) {
	for {
		fmt.Fprintf(out, "%s (y/n): ", question)
		line, err := in.ReadString('\n')
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("reading answer: %w", err)
		}
		fmt.Fprintln(out, "Please answer y or n.")
	}
}

// reuseDecision returns how a stored calibration is confirmed: -reuse keeps
// it, otherwise the user is asked on in. When stdin carries frames there is
// nobody to ask and the result is nil, so the session refuses to pick.
func reuseDecision(reuse, stdinFeed bool, in *bufio.Reader, out io.Writer) func(*calibration.Record) (bool, error) {
	switch {
	case reuse:
		return func(*calibration.Record) (bool, error) { return false, nil }
	case stdinFeed:
		return nil
	}
	return func(r *calibration.Record) (bool, error) {
		q := fmt.Sprintf("Found calibration from %s for %s. Do you want to recalibrate?", r.CreatedAt.Local().Format("2006-01-02 15:04"), r.Key)
		return askYesNo(in, out, q)
	}
}
