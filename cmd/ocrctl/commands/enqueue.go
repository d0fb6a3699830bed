package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/queue"
)

var (
	enqueueInline     bool
	enqueueMaxRetries int
	enqueueDocumentID string
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <pdf>...",
	Short: "Submit PDF files to the worker queue",
	Long: `Submit one job per PDF to QUEUE_NAME on the configured backend. By default
the job carries the absolute path, which the worker must be able to read;
--inline sends the file bytes instead.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEnqueue,
}

func init() {
	enqueueCmd.Flags().BoolVar(&enqueueInline, "inline", false, "send the file contents instead of the path")
	enqueueCmd.Flags().IntVar(&enqueueMaxRetries, "max-retries", 3, "retries for retryable failures")
	enqueueCmd.Flags().StringVar(&enqueueDocumentID, "document-id", "", "document ID (single file only)")
	rootCmd.AddCommand(enqueueCmd)
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	if enqueueDocumentID != "" && len(args) > 1 {
		return fmt.Errorf("--document-id needs exactly one file")
	}

	producer, err := queue.NewProducer(&queue.ProducerConfig{
		Backend:    cfg.QueueBackend,
		RedisURL:   cfg.RedisURL,
		QueueName:  cfg.QueueName,
		MaxRetries: enqueueMaxRetries,
		Timeout:    cfg.ProcessingTimeout,
	})
	if err != nil {
		return err
	}
	defer producer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, path := range args {
		payload, err := newPayload(path)
		if err != nil {
			return err
		}
		id, err := producer.Enqueue(ctx, payload)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", id, path)
	}
	return nil
}

func newPayload(path string) (*queue.JobPayload, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if info.Size() > cfg.MaxFileSize {
		return nil, fmt.Errorf("%s is %d bytes, over MAX_FILE_SIZE %d", path, info.Size(), cfg.MaxFileSize)
	}

	payload := &queue.JobPayload{
		DocumentID: enqueueDocumentID,
		Filename:   filepath.Base(abs),
		Metadata:   map[string]interface{}{"submitted_by": "ocrctl"},
	}
	if enqueueInline {
		payload.FileBuffer, err = os.ReadFile(abs)
		if err != nil {
			return nil, err
		}
	} else {
		payload.Path = abs
	}
	return payload, nil
}
