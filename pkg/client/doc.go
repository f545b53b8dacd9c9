// Package client is the Veritas Go SDK.
//
// It provides everything an application needs to talk to a Veritas ledger
// service: submitting audit events, reading entries, sealing checkpoints,
// and running verification — all in one coherent API.
//
// # Submitting events (most common case)
//
// Event submission is the only write entry point and needs no credentials:
//
//	c, err := client.New("http://localhost:8080")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	entry, err := c.SubmitEvent(ctx, client.Event{
//	    Type:     "user.login",
//	    Category: "auth",
//	    Severity: "info",
//	    Actor:    &client.Actor{DisplayName: "alice"},
//	    Data:     map[string]any{"method": "password"},
//	})
//	fmt.Println(entry.Seq, entry.Hash)
//
// # Reading the ledger
//
//	ov, _ := c.GetOverview(ctx)        // count, tail seq, tail hash
//	e, _ := c.GetEntry(ctx, 42)        // single entry
//	es, _ := c.ListEntries(ctx, 1, 50) // inclusive range
//
// # Operator actions
//
// Sealing checkpoints and running verification require an operator token.
// Configure the admin secret once and tokens are exchanged and refreshed
// automatically:
//
//	c, _ := client.New("http://localhost:8080",
//	    client.WithOperatorSecret(os.Getenv("VERITAS_ADMIN_SECRET")),
//	)
//	cp, _ := c.BuildCheckpoint(ctx, 0, 0) // seal everything unsealed
//	report, err := c.VerifyFull(ctx)
//	if errors.Is(err, client.ErrTamperDetected) {
//	    log.Fatalf("chain broken at entry %d: %s", report.BrokenAt, report.Details)
//	}
//
// A pre-obtained token can be attached instead with WithBearerToken; it is
// then used as-is and never refreshed.
package client
