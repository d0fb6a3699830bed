package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/document"
	apperrors "github.com/ROD-LAR-GILLES/OCR-MVC/internal/errors"
	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/processor"
	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/recognition"
	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/storage"
)

var (
	processOutputDir string
	processDebugDir  string
	processStore     bool
	processProgress  bool
)

var processCmd = &cobra.Command{
	Use:   "process <pdf>...",
	Short: "Extract text from PDF files",
	Long: `Process each PDF through the hybrid pipeline and write <name>_<id>/ with
the text, JSON and markdown results. With --store the result is also written
to the configured PostgreSQL and Qdrant stores.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runProcess,
}

func init() {
	processCmd.Flags().StringVarP(&processOutputDir, "output", "o", "", "results directory (default RESULTS_DIR)")
	processCmd.Flags().StringVar(&processDebugDir, "debug-images", "", "write binarized attempt images here (default DEBUG_IMAGES_DIR)")
	processCmd.Flags().BoolVar(&processStore, "store", false, "also store results in the configured databases")
	processCmd.Flags().BoolVarP(&processProgress, "progress", "p", false, "print a line per finished page")
	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if processOutputDir != "" {
		cfg.ResultsDir = processOutputDir
	}
	if processDebugDir != "" {
		cfg.DebugImagesDir = processDebugDir
	}

	resources, err := cfg.LoadResources()
	if err != nil {
		return err
	}

	files := storage.NewFileWriter(cfg.ResultsDir, cfg.DebugImagesDir)
	var stores *storage.StorageManager
	if processStore {
		stores, err = openStores()
		if err != nil {
			return err
		}
		defer stores.Close()
	}

	proc, err := processor.NewDocumentProcessor(&processor.ProcessorConfig{
		Config:    cfg,
		Resources: resources,
		Engine:    recognition.NewTesseractEngine(&recognition.TesseractConfig{TessdataPrefix: cfg.TessdataPrefix}),
		DebugSink: files,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	failed := 0
	for _, path := range args {
		if err := processFile(ctx, cmd, proc, files, stores, path); err != nil {
			failed++
			fmt.Fprintf(out, "%s: %v\n", path, err)
			if ctx.Err() != nil {
				break
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(args))
	}
	return nil
}

func processFile(ctx context.Context, cmd *cobra.Command, proc *processor.DocumentProcessor, files *storage.FileWriter, stores *storage.StorageManager, path string) error {
	out := cmd.OutOrStdout()

	docCtx, cancel := context.WithTimeout(ctx, cfg.ProcessingTimeout)
	defer cancel()

	req := &processor.ProcessRequest{
		DocumentID: uuid.New().String(),
		Filename:   filepath.Base(path),
		Path:       path,
	}
	if processProgress {
		req.Progress = func(page document.Page, done, total int) {
			fmt.Fprintf(out, "  [%d/%d] page %d %s %.2f\n", done, total, page.Index, page.Method, page.Confidence)
		}
	}

	result, procErr := proc.ProcessDocument(docCtx, req)
	if result == nil {
		if procErr != nil && docCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return apperrors.NewProcessingTimeoutError(req.DocumentID, cfg.ProcessingTimeout, procErr)
		}
		return procErr
	}

	// Unreadable documents are written too so their page errors can be inspected
	paths, err := files.Write(result)
	if err != nil {
		return err
	}
	if stores != nil {
		stored, err := stores.StoreDocumentResult(ctx, result)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "  stored %s with %d page vectors\n", stored.DocumentID, len(stored.PointIDs))
	}

	printSummary(cmd, path, result, paths)
	return procErr
}

func printSummary(cmd *cobra.Command, path string, result *document.DocumentResult, paths *storage.ResultPaths) {
	out := cmd.OutOrStdout()
	counts := result.MethodCounts()
	fmt.Fprintf(out, "%s\n", path)
	fmt.Fprintf(out, "  document:   %s\n", result.ID)
	fmt.Fprintf(out, "  pages:      %d (digital %d, ocr %d, best-effort %d, unreadable %d)\n",
		len(result.Pages),
		counts[document.MethodDigital],
		counts[document.MethodOCR],
		counts[document.MethodBestEffort],
		counts[document.MethodUnreadable])
	fmt.Fprintf(out, "  method:     %s\n", result.Method)
	fmt.Fprintf(out, "  confidence: %.2f\n", result.Confidence)
	fmt.Fprintf(out, "  elapsed:    %s\n", result.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(out, "  output:     %s\n", paths.Dir)
	for _, pe := range result.Errors {
		fmt.Fprintf(out, "  page %d: %s %s\n", pe.Page, pe.Code, pe.Message)
	}
}
