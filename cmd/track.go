package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/tracklets/internal/cache"
	"github.com/andresmejia3/tracklets/internal/config"
	"github.com/andresmejia3/tracklets/internal/logging"
	"github.com/andresmejia3/tracklets/internal/tracking"
	"github.com/andresmejia3/tracklets/internal/types"
	"github.com/andresmejia3/tracklets/internal/utils"
	"github.com/andresmejia3/tracklets/internal/worker"
)

const megabyte = 1024 * 1024

// trackOptions are the flags of the track command
type trackOptions struct {
	DetectionTypeID int64
	TrackletTypeID  int64
	VersionNumber   int
	StrategyFile    string
	Replace         bool
	CropSize        int
	DryRun          bool
}

var trackOpts trackOptions

var trackCmd = &cobra.Command{
	Use:   "track <media_file>...",
	Short: "Link detections into tracklets and store the classified tracks",
	Long: `Runs the multi-pass tracklet linker on every media file. Files must be
named <media_id>_<anything>.<ext>; the id selects the media in the store.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runTrack(cmd.Context(), args, trackOpts)
	},
}

func init() {
	f := trackCmd.Flags()
	f.Int64VarP(&trackOpts.DetectionTypeID, "detection-type-id", "d", 0, "Localization type holding the detections")
	f.Int64VarP(&trackOpts.TrackletTypeID, "tracklet-type-id", "t", 0, "Track type to create")
	f.IntVar(&trackOpts.VersionNumber, "version-number", -1, "Version number the tracks belong to (-1 for none)")
	f.StringVarP(&trackOpts.StrategyFile, "strategy-config", "s", "", "YAML tracking strategy (default: hybrid over frame diffs 1..256)")
	f.BoolVar(&trackOpts.Replace, "replace", false, "Delete earlier tracks of the same type on the media first (postgres only)")
	f.IntVar(&trackOpts.CropSize, "crop-size", 0, "Resize detection crops to a square of this size (0 keeps the box size)")
	f.BoolVar(&trackOpts.DryRun, "dry-run", false, "Write the JSON output without touching the store")

	trackCmd.MarkFlagRequired("detection-type-id")
	trackCmd.MarkFlagRequired("tracklet-type-id")
	rootCmd.AddCommand(trackCmd)
}

// modelWorker is the appearance model behind the hybrid method
type modelWorker interface {
	tracking.CropComparator
	tracking.SequenceComparator
	tracking.FeatureExtractor
}

// trackReplacer is implemented by backends that can swap the earlier tracks
// of a media for new ones atomically
type trackReplacer interface {
	ReplaceTracks(ctx context.Context, mediaID, typeID int64, runID uuid.UUID, recs []types.TrackRecord) (int64, []int64, error)
}

// tracker holds everything shared by the media of one run.
type tracker struct {
	store     annotationStore
	lookups   cache.Lookup
	replacer  trackReplacer
	worker    modelWorker
	strategy  *config.Strategy
	opts      trackOptions
	version   *int64
	runID     uuid.UUID
	outputDir string
	logger    *slog.Logger
	progress  io.Writer
}

func runTrack(ctx context.Context, paths []string, opts trackOptions) error {
	strat, err := config.LoadStrategy(opts.StrategyFile)
	if err != nil {
		utils.ShowError("Invalid tracking strategy", err, nil)
		return err
	}

	t := &tracker{
		store:     Backend,
		lookups:   Lookups,
		strategy:  strat,
		opts:      opts,
		runID:     uuid.New(),
		outputDir: settings.OutputDir,
		logger:    logging.ForModule(logger, "track"),
		progress:  os.Stderr,
	}

	if opts.VersionNumber >= 0 {
		ver, err := Lookups.VersionByNumber(ctx, opts.VersionNumber)
		if err != nil {
			utils.ShowError("Failed to resolve version", err, nil)
			return err
		}
		t.version = &ver.ID
	}

	if opts.Replace && !opts.DryRun {
		if t.replacer, err = requireDB(); err != nil {
			utils.ShowError("--replace is not available", err, nil)
			return err
		}
	}

	var pw *worker.PythonWorker
	if tracking.IsVisual(strat.Method) {
		fmt.Fprintln(os.Stderr, "🚀 Starting model worker...")
		pw, err = worker.NewPythonWorker(ctx, 0, settings.Python, settings.WorkerScript, strat.Args.ModelFile)
		if err != nil {
			utils.ShowError("Failed to start model worker", err, nil)
			return err
		}
		defer pw.Close()
		t.worker = pw
	}

	fmt.Fprintf(os.Stderr, "📼 Run %s: %d media, method %s, %d passes\n",
		t.runID.String()[:8], len(paths), strat.Method, len(strat.FrameDiffs))

	var failed, created int
	var lastErr error
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := t.processMedia(ctx, path)
		if err != nil {
			failed++
			lastErr = err
			t.logger.Error("media failed", "path", path, "error", err)
			continue
		}
		created += n
		fmt.Fprintf(os.Stderr, "✅ %s: %d tracks\n", filepath.Base(path), n)
	}

	fmt.Fprintf(os.Stderr, "\n🏁 Tracking Complete. %d tracks from %d media, %d failed.\n",
		created, len(paths)-failed, failed)

	if failed == len(paths) {
		var cmd *utils.SafeCommand
		if pw != nil {
			cmd = pw.Cmd
		}
		utils.ShowError("Every media failed", lastErr, cmd)
		return fmt.Errorf("all %d media failed: %w", failed, lastErr)
	}
	return nil
}

// processMedia tracks one media file and stores the result. It returns
// the number of track records produced.
func (t *tracker) processMedia(ctx context.Context, path string) (int, error) {
	mediaID, err := utils.MediaIDFromPath(path)
	if err != nil {
		return 0, err
	}
	log := t.logger.With("media_id", mediaID)

	media, err := t.lookups.Media(ctx, mediaID)
	if err != nil {
		return 0, fmt.Errorf("fetching media %d: %w", mediaID, err)
	}

	locs, err := t.store.Localizations(ctx, mediaID, t.opts.DetectionTypeID)
	if err != nil {
		return 0, fmt.Errorf("fetching localizations of media %d: %w", mediaID, err)
	}
	dets := confidentDetections(locs, t.strategy.MinConfidence)
	log.Info("loaded detections", "total", len(locs), "kept", len(dets))

	visual := tracking.IsVisual(t.strategy.Method)
	frames := 0
	if visual || media.Width <= 0 || media.Height <= 0 || media.FPS <= 0 {
		info, err := utils.ProbeVideo(ctx, path)
		if err != nil {
			return 0, err
		}
		media.Width, media.Height, media.FPS = info.Width, info.Height, info.FPS
		frames = info.Frames
		if visual && frames == 0 {
			frames = utils.GetTotalFrames(ctx, path)
		}
	}

	opts := t.strategy.Options(tracking.Dims{Width: media.Width, Height: media.Height}, media.FPS)
	opts.Progress = t.progress
	if visual {
		if dets, err = t.attachAppearance(ctx, path, frames, dets, log); err != nil {
			return 0, err
		}
		opts.Crops, opts.Sequences = t.worker, t.worker
	}

	weights, err := tracking.NewStrategy(opts)
	if err != nil {
		return 0, err
	}

	tracklets, err := linkDetections(ctx, dets, t.strategy, weights, t.progress, log)
	if err != nil {
		return 0, err
	}

	recs := buildRecords(tracklets, t.strategy, tracking.ObjectMeta{
		TypeID:  t.opts.TrackletTypeID,
		MediaID: mediaID,
		Version: t.version,
	})

	out, err := writeRecords(t.outputDir, mediaID, recs)
	if err != nil {
		return 0, err
	}
	log.Info("tracks written", "tracklets", tracklets.Len(), "records", len(recs), "file", out)

	if t.opts.DryRun {
		return len(recs), nil
	}

	if t.replacer != nil {
		n, _, err := t.replacer.ReplaceTracks(ctx, mediaID, t.opts.TrackletTypeID, t.runID, recs)
		if err != nil {
			return 0, fmt.Errorf("replacing tracks: %w", err)
		}
		log.Debug("replaced earlier tracks", "deleted", n)
	} else if _, err := t.store.CreateTracks(ctx, t.runID, recs); err != nil {
		return 0, fmt.Errorf("storing tracks: %w", err)
	}
	if err := t.store.MarkProcessed(ctx, mediaID, time.Now()); err != nil {
		return 0, fmt.Errorf("marking media processed: %w", err)
	}
	return len(recs), nil
}

// confidentDetections drops localizations below minConfidence.
func confidentDetections(locs []types.Localization, minConfidence float64) []tracking.Detection {
	dets := make([]tracking.Detection, 0, len(locs))
	for _, l := range locs {
		if l.Confidence < minConfidence {
			continue
		}
		dets = append(dets, tracking.FromLocalization(l))
	}
	return dets
}

// attachAppearance decodes the video up to the last detected frame, crops
// every detection and computes its appearance features. Detections whose
// crop fails are dropped. frames is the probed frame count, 0 if unknown.
func (t *tracker) attachAppearance(ctx context.Context, path string, frames int, dets []tracking.Detection, log *slog.Logger) ([]tracking.Detection, error) {
	if len(dets) == 0 {
		return dets, nil
	}

	byFrame := make(map[int][]int)
	lastFrame := 0
	for i, d := range dets {
		byFrame[d.Frame] = append(byFrame[d.Frame], i)
		lastFrame = max(lastFrame, d.Frame)
	}

	if frames > 0 && lastFrame >= frames {
		log.Warn("detections past the end of the video", "frames", frames, "last_frame", lastFrame)
		lastFrame = frames - 1
	}

	bar := progressbar.NewOptions(lastFrame+1,
		progressbar.OptionSetDescription("🎞️  Cropping detections"),
		progressbar.OptionSetWriter(t.progress),
		progressbar.OptionShowCount(),
	)

	ffmpeg := utils.NewFFmpegCmd(ctx, path)
	ffmpegOut, err := ffmpeg.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create FFmpeg stdout pipe: %w", err)
	}
	if err := ffmpeg.Start(); err != nil {
		return nil, fmt.Errorf("failed to start FFmpeg: %w", err)
	}

	scanner := bufio.NewScanner(ffmpegOut)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)

	frame := 0
	for frame <= lastFrame && scanner.Scan() {
		for _, i := range byFrame[frame] {
			b := dets[i].Box
			crop, err := utils.CropJPEG(scanner.Bytes(), b.X, b.Y, b.Width, b.Height, t.opts.CropSize)
			if err != nil {
				log.Warn("dropping detection", "localization_id", dets[i].ID, "frame", frame, "error", err)
				continue
			}
			dets[i].Crop = crop
		}
		frame++
		bar.Add(1)
	}
	bar.Finish()
	fmt.Fprintln(t.progress)

	scanErr := scanner.Err()
	// Closing early makes ffmpeg exit on a broken pipe once every needed frame is read
	ffmpegOut.Close()
	waitErr := ffmpeg.Wait()
	if scanErr != nil {
		return nil, fmt.Errorf("frame scanner failed: %w", scanErr)
	}
	if frame <= lastFrame {
		if waitErr != nil {
			return nil, fmt.Errorf("FFmpeg execution failed: %w: %s", waitErr, ffmpeg.Stderr.String())
		}
		log.Warn("video ended before the last detection", "decoded", frame, "last_frame", lastFrame)
	}

	kept := dets[:0]
	for _, d := range dets {
		if d.Crop != nil {
			kept = append(kept, d)
		}
	}

	batch := t.strategy.Args.BatchSize
	if batch <= 0 {
		batch = tracking.DefaultBatchSize
	}
	for start := 0; start < len(kept); start += batch {
		end := min(start+batch, len(kept))
		crops := make([][]byte, 0, end-start)
		for _, d := range kept[start:end] {
			crops = append(crops, d.Crop)
		}

		feats, err := t.worker.ExtractFeatures(ctx, crops)
		if err != nil {
			return nil, fmt.Errorf("extracting features: %w", err)
		}
		for j, f := range feats {
			kept[start+j].Features = f
		}
	}

	return kept, nil
}

// linkDetections runs one join pass per configured frame diff, trimming
// and extending between passes as the strategy asks, and groups the
// result. Every detection starts as its own tracklet.
func linkDetections(ctx context.Context, dets []tracking.Detection, strat *config.Strategy,
	weights tracking.Strategy, progress io.Writer, log *slog.Logger) (*tracking.Tracklets, error) {

	ids := make([]int, len(dets))
	for i := range ids {
		ids[i] = i
	}
	constraints := make(tracking.Constraints)

	bar := progressbar.NewOptions(len(strat.FrameDiffs),
		progressbar.OptionSetDescription("🔗 Linking"),
		progressbar.OptionSetWriter(progress),
		progressbar.OptionShowCount(),
	)
	defer bar.Finish()

	for _, fd := range strat.FrameDiffs {
		pass, err := tracking.JoinTracklets(ctx, dets, ids, fd, weights, constraints)
		if err != nil {
			return nil, err
		}
		dets, ids, constraints = pass.Detections, pass.TrackIDs, pass.Constraints

		if n := strat.TrimLength(fd); n > 0 {
			var cuts tracking.Constraints
			dets, ids, cuts, err = tracking.TrimTracklets(dets, ids, n)
			if err != nil {
				return nil, err
			}
			constraints = constraints.Union(cuts)
		}

		if length, ok := strat.ExtendAfter(fd); ok {
			grouped, err := tracking.GroupTracklets(dets, ids)
			if err != nil {
				return nil, err
			}
			dets, ids = tracking.ExtendTracklets(grouped, length).Flatten()
		}

		log.Log(ctx, logging.LevelTrace, "pass complete",
			"frame_diff", fd, "candidates", len(pass.Pairs), "constraints", len(constraints))
		bar.Add(1)
	}

	return tracking.GroupTracklets(dets, ids)
}

// buildRecords turns every tracklet longer than the strategy's min length
// into a track record.
func buildRecords(tracklets *tracking.Tracklets, strat *config.Strategy, meta tracking.ObjectMeta) []types.TrackRecord {
	recs := []types.TrackRecord{}
	for _, id := range tracklets.IDs() {
		t := tracklets.Get(id)
		if len(t) <= strat.MinLength {
			continue
		}
		recs = append(recs, tracking.MakeObject(t, meta, strat.Classify))
	}
	return recs
}

// writeRecords dumps the records of one media as <dir>/<media_id>.json.
func writeRecords(dir string, mediaID int64, recs []types.TrackRecord) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}

	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, strconv.FormatInt(mediaID, 10)+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}
