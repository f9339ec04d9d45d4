package main

import (
	"bufio"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/Agrid-Dev/monehvac/internal/climate"
	"github.com/Agrid-Dev/monehvac/internal/logging"
)

// ReplayLog feeds every line of in (one bridge JSON message per line) through a
// fresh climate and writes the resulting state after each line to out.
func ReplayLog(in io.Reader, out io.Writer, log *slog.Logger) error {
	c, err := climate.New(climate.Options{Logger: log})
	if err != nil {
		return fmt.Errorf("failed to create climate: %v", err)
	}

	writer := csv.NewWriter(out)
	defer writer.Flush()

	// Write CSV header
	if err := writer.Write([]string{"Line", "Applied", "Power", "Mode", "Target", "Fan", "SwingV", "SwingH", "Source", "JSON"}); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	scanner := bufio.NewScanner(in)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}

		applied := c.ParseJSON(raw)
		s := c.Get()

		if err := writer.Write([]string{
			strconv.Itoa(line),
			strconv.FormatBool(applied),
			s.Operation.Power().String(),
			s.Operation.Mode().VendorString(),
			strconv.FormatFloat(s.TargetTemperature, 'f', -1, 64),
			s.FanMode,
			s.SwingMode,
			s.SwingHMode,
			s.Source,
			s.JSON,
		}); err != nil {
			return fmt.Errorf("failed to write CSV record: %v", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read input: %v", err)
	}
	return nil
}

func main() {
	inPath := flag.String("in", "", "file with one bridge JSON message per line (default stdin)")
	outPath := flag.String("out", "monehvac.csv", "CSV output file")
	flag.Parse()

	log, _ := logging.New(os.Stderr, slog.LevelWarn, logging.FormatConsole)

	in := io.Reader(os.Stdin)
	if *inPath != "" {
		f, err := os.Open(*inPath)
		if err != nil {
			log.Error("open input", "err", err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}

	out, err := os.Create(*outPath)
	if err != nil {
		log.Error("create output", "err", err)
		os.Exit(1)
	}
	defer out.Close()

	if err := ReplayLog(in, out, log); err != nil {
		log.Error("replay failed", "err", err)
		os.Exit(1)
	}
}
