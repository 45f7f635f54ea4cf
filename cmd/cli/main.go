package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/voice-ledger/internal/app"
	"github.com/dvloznov/voice-ledger/internal/balance"
	"github.com/dvloznov/voice-ledger/internal/capture"
	"github.com/dvloznov/voice-ledger/internal/config"
	"github.com/dvloznov/voice-ledger/internal/domain"
	"github.com/dvloznov/voice-ledger/internal/logger"
	"github.com/dvloznov/voice-ledger/internal/notify"
	"github.com/dvloznov/voice-ledger/internal/review"
	"github.com/dvloznov/voice-ledger/internal/voiceflow"
	"github.com/rs/zerolog"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "extract":
		withApp(runExtract)
	case "add":
		withApp(runAdd)
	case "balances":
		withApp(runBalances)
	case "entities":
		withApp(runEntities)
	case "categories":
		withApp(runCategories)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Voice Ledger CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  extract     Turn a transcript into a reviewed draft, optionally committing it")
	fmt.Println("  add         Record a transaction manually")
	fmt.Println("  balances    Show inter-company balances")
	fmt.Println("  entities    List registered entities")
	fmt.Println("  categories  List categories")
	fmt.Println("  help        Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

func withApp(run func(ctx context.Context, a *app.App, log zerolog.Logger) error) {
	cfg, err := config.Load()
	if err != nil {
		log := logger.New("info")
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.New(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	if err := a.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start archive worker")
	}

	runErr := run(ctx, a, log)
	if err := a.Close(ctx); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
	}
	if runErr != nil {
		fmt.Fprintln(os.Stderr, "Error:", runErr)
		os.Exit(1)
	}
}

var printer = message.NewPrinter(language.BrazilianPortuguese)

func money(v float64) string {
	return printer.Sprintf("%.2f", v)
}

func runExtract(ctx context.Context, a *app.App, log zerolog.Logger) error {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	text := fs.String("text", "", "Transcript to process (defaults to the remaining arguments)")
	confirm := fs.Bool("confirm", false, "Commit the draft when it can be confirmed")
	amount := fs.Float64("amount", 0, "Override the extracted amount")
	category := fs.String("category", "", "Override the category id")
	fs.Parse(os.Args[2:])

	utterance := *text
	if utterance == "" {
		utterance = strings.Join(fs.Args(), " ")
	}

	// No recognizer: the transcript comes from the command line.
	session := capture.NewSession(nil, a.Capture, logger.Component(log, "capture"))
	flow := voiceflow.NewFlow(session, a.Deps, logger.Component(log, "voice"))

	preview, err := flow.Process(ctx, utterance)
	if err != nil {
		return fmt.Errorf("%s (%w)", voiceflow.UserMessage(err), err)
	}

	c, err := flow.Review()
	if err != nil {
		return err
	}
	if *amount != 0 {
		if err := c.SetAmount(*amount); err != nil {
			return fmt.Errorf("%s (%w)", voiceflow.UserMessage(err), err)
		}
	}
	if *category != "" {
		if err := c.SetCategory(*category); err != nil {
			return fmt.Errorf("%s (%w)", voiceflow.UserMessage(err), err)
		}
	}
	preview = c.View()
	printPreview(preview)

	if !*confirm {
		fmt.Println("\nDraft not committed. Re-run with -confirm to save it.")
		return nil
	}
	tx, err := flow.Confirm(ctx)
	if err != nil {
		return fmt.Errorf("%s (%w)", voiceflow.UserMessage(err), err)
	}
	fmt.Printf("\nCommitted transaction %s\n", tx.ID)
	return nil
}

func printPreview(p review.Preview) {
	names := make(map[string]string, len(p.Entities)+len(p.Categories))
	for _, e := range p.Entities {
		names[e.ID] = e.Name
	}
	for _, c := range p.Categories {
		names[c.ID] = c.Name
	}
	name := func(id string) string {
		if id == "" {
			return "-"
		}
		if n, ok := names[id]; ok {
			return n
		}
		return id
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Heard:\t%s\n", p.OriginalText)
	fmt.Fprintf(w, "Confidence:\t%.0f%% (%s)\n", p.Confidence*100, p.Band)
	if p.Warning != "" {
		fmt.Fprintf(w, "Warning:\t%s\n", p.Warning)
	}
	fmt.Fprintf(w, "Mode:\t%s\n", p.Mode)
	fmt.Fprintf(w, "Type:\t%s\n", p.Form.Type)
	fmt.Fprintf(w, "Amount:\t%s\n", money(p.Form.Amount))
	fmt.Fprintf(w, "Description:\t%s\n", p.Form.Description)
	fmt.Fprintf(w, "Date:\t%s\n", p.Form.Date)
	fmt.Fprintf(w, "Origin:\t%s\n", name(p.Form.OriginID))
	fmt.Fprintf(w, "Destination:\t%s\n", name(p.Form.DestinationID))
	fmt.Fprintf(w, "Category:\t%s\n", name(p.Form.CategoryID))
	fmt.Fprintf(w, "Can confirm:\t%v\n", p.CanConfirm)
	w.Flush()
}

func runAdd(ctx context.Context, a *app.App, log zerolog.Logger) error {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	txType := fs.String("type", "expense", "income or expense")
	amount := fs.Float64("amount", 0, "Amount (required)")
	description := fs.String("description", "", "Description")
	date := fs.String("date", "", "Date as YYYY-MM-DD (defaults to today)")
	origin := fs.String("origin", "", "Origin entity id")
	destination := fs.String("destination", "", "Destination entity id")
	category := fs.String("category", "", "Category id")
	fs.Parse(os.Args[2:])

	day := civil.DateOf(time.Now())
	if *date != "" {
		d, err := civil.ParseDate(*date)
		if err != nil {
			return fmt.Errorf("invalid -date: %w", err)
		}
		day = d
	}

	tx, err := a.Committer.Commit(ctx, domain.TransactionFormData{
		Type:          domain.TransactionType(*txType),
		Amount:        *amount,
		Description:   *description,
		Date:          day,
		OriginID:      *origin,
		DestinationID: *destination,
		CategoryID:    *category,
	}, notify.SourceManual, "")
	if err != nil {
		return fmt.Errorf("%s (%w)", voiceflow.UserMessage(err), err)
	}

	log.Info().Str("transaction_id", tx.ID).Msg("Transaction added")
	fmt.Printf("Committed transaction %s\n", tx.ID)
	return nil
}

func runBalances(ctx context.Context, a *app.App, log zerolog.Logger) error {
	fs := flag.NewFlagSet("balances", flag.ExitOnError)
	all := fs.Bool("all", false, "Include settled pairs")
	fs.Parse(os.Args[2:])

	balances, err := a.Repo.ListPairwiseBalances(ctx)
	if err != nil {
		return err
	}
	if len(balances) == 0 {
		fmt.Println("No inter-company balances.")
		return nil
	}

	listed := balances
	if !*all {
		listed = balance.NonZero(balances)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "Creditor\tDebtor\tAmount\t")
	for _, b := range listed {
		creditor, debtor, amount := b.OriginName, b.DestinationName, b.Amount
		if amount < 0 {
			creditor, debtor, amount = debtor, creditor, -amount
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t\n", creditor, debtor, money(amount))
	}
	w.Flush()

	m := balance.BuildMatrix(balances)
	fmt.Println("\nMatrix (row is owed by column):")
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	header := []string{""}
	for _, e := range m.Entities {
		header = append(header, e.Name)
	}
	fmt.Fprintln(w, strings.Join(header, "\t")+"\t")
	for _, row := range m.Entities {
		cells := []string{row.Name}
		for _, col := range m.Entities {
			v, self := m.Cell(row.ID, col.ID)
			if self {
				cells = append(cells, "-")
				continue
			}
			cells = append(cells, money(v))
		}
		fmt.Fprintln(w, strings.Join(cells, "\t")+"\t")
	}
	w.Flush()

	totals := balance.PerEntityTotals(balances)
	fmt.Println("\nTotals:")
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "Entity\tReceivable\tPayable\tNet\t")
	for _, e := range m.Entities {
		t := totals[e.ID]
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n", t.Name,
			money(t.Receivable.InexactFloat64()),
			money(t.Payable.InexactFloat64()),
			money(t.Net().InexactFloat64()))
	}
	w.Flush()

	for _, asym := range balance.AsymmetricPairs(balances) {
		log.Warn().
			Str("a", asym.A).
			Str("b", asym.B).
			Float64("a_to_b", asym.AtoB).
			Float64("b_to_a", asym.BtoA).
			Msg("Asymmetric balance pair")
	}
	return nil
}

func runEntities(ctx context.Context, a *app.App, log zerolog.Logger) error {
	entities, err := a.Repo.ListEntities(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tName\tActive")
	for _, e := range entities {
		fmt.Fprintf(w, "%s\t%s\t%v\n", e.ID, e.Name, e.Active)
	}
	return w.Flush()
}

func runCategories(ctx context.Context, a *app.App, log zerolog.Logger) error {
	fs := flag.NewFlagSet("categories", flag.ExitOnError)
	txType := fs.String("type", "", "Only categories usable for income or expense")
	fs.Parse(os.Args[2:])

	categories, err := a.Repo.ListCategories(ctx)
	if err != nil {
		return err
	}
	if *txType != "" {
		t := domain.TransactionType(*txType)
		if !t.Valid() {
			return fmt.Errorf("invalid -type %q: must be income or expense", *txType)
		}
		categories = domain.FilterCategories(categories, t)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tName\tKind")
	for _, c := range categories {
		fmt.Fprintf(w, "%s\t%s\t%s\n", c.ID, c.Name, c.Kind)
	}
	return w.Flush()
}
