// Package client is the D.A.T.A. (Detection & Threat Analytics Tracking
// Application) Go SDK.
//
// It wraps the fixed HTTP API that stores detections, recomputes their
// Shannon Scores, classifies them against MITRE ATT&CK and accepts bulk CSV
// uploads. Every call is a single request: there are no retries and no
// background work.
//
// # Connecting
//
//	c, err := client.New("http://localhost:8000/api",
//	    client.WithTimeout(30*time.Second),
//	    client.WithLogger(logger),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Detections
//
//	list, err := c.ListDetections(ctx)
//	d, err := c.CreateDetection(ctx, detection.Input{
//	    Name:        "Encoded PowerShell",
//	    Logic:       "cmdline contains '-enc'",
//	    Description: "Base64 encoded command line",
//	})
//	d, err = c.CalculateScore(ctx, d.ID)
//	d, err = c.ClassifyMitre(ctx, d.ID)
//
// # Weights
//
// The weight set is validated locally before it is sent; an invalid set never
// reaches the network:
//
//	w, err := c.Weights().Submit(ctx, score.WeightForm{
//	    TAC: "0.3", DI: "0.2", OC: "0.2", IRP: "0.2", U: "0.1",
//	})
//
// # Bulk upload
//
//	f, _ := os.Open("detections.csv")
//	res, err := c.UploadCSV(ctx, "detections.csv", f)
//
// # Errors
//
// Remote failures are *TransportError (no response), *ServerValidationError
// (structured 4xx), *ServerError (5xx with a server message), *UnknownError
// (anything else) or wrap ErrNotFound.
// Messages turns any of them into the lines a user should see.
package client
