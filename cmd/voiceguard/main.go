package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"github.com/bryanwahyu/voiceguard/internal/application"
	appanalysis "github.com/bryanwahyu/voiceguard/internal/application/analysis"
	domain "github.com/bryanwahyu/voiceguard/internal/domain/analysis"
	"github.com/bryanwahyu/voiceguard/internal/infra/detector/simulated"
	"github.com/bryanwahyu/voiceguard/internal/infra/memory"
	"github.com/bryanwahyu/voiceguard/internal/infra/storage"
)

var (
	infoColor    = color.New(color.FgBlue).SprintFunc()
	successColor = color.New(color.FgGreen).SprintFunc()
	warningColor = color.New(color.FgYellow).SprintFunc()
	errorColor   = color.New(color.FgRed).SprintFunc()
	alertColor   = color.New(color.FgRed, color.Bold).SprintFunc()
)

func printInfo(format string, args ...interface{}) {
	fmt.Printf("%s %s\n", infoColor("[*]"), fmt.Sprintf(format, args...))
}

func printSuccess(format string, args ...interface{}) {
	fmt.Printf("%s %s\n", successColor("[+]"), fmt.Sprintf(format, args...))
}

func printWarning(format string, args ...interface{}) {
	fmt.Printf("%s %s\n", warningColor("[!]"), fmt.Sprintf(format, args...))
}

func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%s %s\n", errorColor("[-]"), fmt.Sprintf(format, args...))
}

func printAlert(format string, args ...interface{}) {
	fmt.Printf("%s %s\n", alertColor("[!!!]"), fmt.Sprintf(format, args...))
}

func usage() {
	fmt.Println("Usage:")
	fmt.Println("  voiceguard check <file>")
	fmt.Println("  voiceguard analyze [-fast] <file>")
	fmt.Println("  voiceguard band <score>")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "check":
		err = runCheck(os.Args[2:])
	case "analyze":
		err = runAnalyze(os.Args[2:])
	case "band":
		err = runBand(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

// describeFile builds upload metadata from a local file, types by extension.
func describeFile(path string) (domain.SelectedFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return domain.SelectedFile{}, err
	}
	if info.IsDir() {
		return domain.SelectedFile{}, fmt.Errorf("%s is a directory", path)
	}
	return domain.SelectedFile{
		Name:      filepath.Base(path),
		Size:      info.Size(),
		MediaType: storage.ContentTypeFor(path),
	}, nil
}

func runCheck(args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	maxMB := fs.Int("max", domain.DefaultMaxSizeMB, "Maximum file size in MB")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("check needs exactly one file")
	}

	f, err := describeFile(fs.Arg(0))
	if err != nil {
		return err
	}
	printInfo("%s (%s, %d bytes)", f.Name, f.MediaType, f.Size)
	if err := domain.NewValidator(*maxMB, nil).Validate(f); err != nil {
		return err
	}
	printSuccess("File accepted")
	return nil
}

func runAnalyze(args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	fast := fs.Bool("fast", false, "Skip the simulated upload and analysis delays")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("analyze needs exactly one file")
	}

	f, err := describeFile(fs.Arg(0))
	if err != nil {
		return err
	}

	uploadDelay, analysisDelay := storage.DefaultUploadDelay, simulated.DefaultDelay
	if *fast {
		uploadDelay, analysisDelay = 0, 0
	}
	broker := appanalysis.NewBroker()
	svc := &appanalysis.Service{
		Sessions:  memory.NewSessionStore(),
		History:   memory.NewHistoryRepository(),
		Audio:     storage.NewSimulated(uploadDelay),
		Detector:  simulated.NewDetector(analysisDelay),
		Validator: domain.NewValidator(0, nil),
		Clock:     application.SystemClock{},
		Events:    broker,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	const tenant = "cli"
	sess, err := svc.Start(ctx, tenant)
	if err != nil {
		return err
	}
	// metadata only: the simulated store never reads or removes the file
	if _, err := svc.Select(ctx, tenant, sess.ID, f, ""); err != nil {
		return err
	}

	events, unsubscribe := broker.Subscribe(sess.ID)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for ev := range events {
			switch ev.Status {
			case domain.StatusUploading:
				printInfo("Uploading %s ...", f.Name)
			case domain.StatusAnalyzing:
				printInfo("Analyzing voice patterns ...")
			}
		}
	}()

	final, err := svc.Run(ctx, tenant, sess.ID)
	unsubscribe()
	<-printed
	if err != nil {
		return err
	}
	if final.Result == nil {
		return fmt.Errorf("analysis ended without a result: %s", final.Error)
	}
	printResult(f, final.Result)
	return nil
}

func printResult(f domain.SelectedFile, r *domain.Result) {
	band := domain.Describe(r.RiskScore)
	fmt.Println("---------------------------------")
	fmt.Printf("File:       %s\n", f.Name)
	fmt.Printf("Duration:   %s\n", r.Duration)
	fmt.Printf("Confidence: %d%%\n", r.Confidence)

	line := fmt.Sprintf("Risk score %d/100 - %s (%s)", r.RiskScore, band.Level, band.Badge)
	switch band.Band {
	case domain.BandHigh:
		printAlert("%s", line)
	case domain.BandMedium:
		printWarning("%s", line)
	default:
		printSuccess("%s", line)
	}
	fmt.Println(band.Description)

	fmt.Println("\nDetected patterns:")
	for _, p := range r.DetectedPatterns {
		fmt.Printf("  - %s\n", p)
	}
	fmt.Println("\nRecommendations:")
	for _, rec := range r.Recommendations {
		fmt.Printf("  - %s\n", rec)
	}
}

func runBand(args []string) error {
	if len(args) != 1 {
		return errors.New("band needs exactly one score")
	}
	score, err := parseScore(args[0])
	if err != nil {
		return err
	}
	b := domain.Describe(score)
	fmt.Printf("%d: %s (%s)\n%s\n", score, b.Level, b.Badge, b.Description)
	return nil
}

// parseScore accepts an integer risk score in [0,100].
func parseScore(arg string) (int, error) {
	score, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil {
		return 0, fmt.Errorf("invalid score %q", arg)
	}
	if score < 0 || score > 100 {
		return 0, fmt.Errorf("score %d out of range 0-100", score)
	}
	return score, nil
}
