package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/autodoc/internal/models"
	"github.com/Lllllllleong/autodoc/internal/services"
)

var (
	indexerInstance *services.IndexerFunction
	once            sync.Once
	initErr         error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.CloudEvent("IndexUploadedPDF", indexUploadedPDF)
}

func main() {}

// indexUploadedPDF handles storage "object finalized" events.
func indexUploadedPDF(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		indexerInstance, initErr = services.NewIndexer(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent models.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "eventId", e.ID(), "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	return indexerInstance.Process(ctx, gcsEvent)
}
