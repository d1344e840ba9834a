// Command afidb is a cobra command tree exposing the aggregate audio
// database's public API from the shell.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/nilsgravlund/afidb/pkg/audiodb"
	"github.com/nilsgravlund/afidb/pkg/config"
	"github.com/nilsgravlund/afidb/pkg/model"
	"github.com/nilsgravlund/afidb/pkg/persist"
	"github.com/nilsgravlund/afidb/pkg/xhash"
	"log/slog"
)

var (
	flagStateDir  string
	flagSubstring bool

	db *audiodb.Database
)

var rootCmd = &cobra.Command{
	Use:   "afidb",
	Short: "Inspect and maintain an afidb audio library database",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" {
			return nil
		}
		return openDatabase(cmd.Context())
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if db == nil {
			return nil
		}
		return db.Destroy(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagStateDir, "state-dir",
		config.Env("AFIDB_STATE_DIR", "./afidb-state"), "Directory holding the aggregate database's own persisted state")

	rootCmd.AddCommand(addCmd, removeCmd, locationsCmd, refreshCmd, loadCmd, saveCmd,
		songCmd, albumCmd, artistCmd, searchCmd, pictureCmd, setPictureCmd,
		ignoreCmd, metadataCmd, canonicalNameCmd, watchCmd)
}

func main() {
	rootCmd.SetContext(context.Background())
	if err := rootCmd.Execute(); err != nil {
		slog.Error("afidb failed", "err", err)
		os.Exit(1)
	}
}

var registry = xhash.NewRegistry()

func openDatabase(ctx context.Context) error {
	ps, err := persist.NewFilePersist(flagStateDir)
	if err != nil {
		return fmt.Errorf("open state dir %q: %w", flagStateDir, err)
	}
	db = audiodb.New(audiodb.Options{
		Registry:         registry,
		Persist:          ps,
		FallbackStateDir: filepath.Join(flagStateDir, "afi-state"),
	})
	return db.Load(ctx)
}

var addCmd = &cobra.Command{
	Use:   "add <path>",
	Short: "Register a directory as a new file location and scan it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		added, err := db.AddFileLocation(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !added {
			slog.Info("location already registered", "path", args[0])
			return nil
		}
		slog.Info("location added", "path", args[0])
		return db.Save(cmd.Context())
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <path>",
	Short: "Deregister a file location",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		removed, err := db.RemoveFileLocation(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !removed {
			slog.Info("location not registered", "path", args[0])
			return nil
		}
		slog.Info("location removed", "path", args[0])
		return db.Save(cmd.Context())
	},
}

var locationsCmd = &cobra.Command{
	Use:   "locations",
	Short: "List registered file locations",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, loc := range db.GetLocations() {
			fmt.Println(loc)
		}
		return nil
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Rescan every registered location",
	RunE: func(cmd *cobra.Command, args []string) error {
		ran, err := db.Refresh(cmd.Context())
		if err != nil {
			return err
		}
		if !ran {
			slog.Info("refresh skipped: already in progress")
			return nil
		}
		flat := db.Flatten()
		slog.Info("refresh complete", "songs", len(flat.Songs), "albums", len(flat.Albums), "artists", len(flat.Artists))
		return db.Save(cmd.Context())
	},
}

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Reload the database from its persisted state",
	RunE: func(cmd *cobra.Command, args []string) error {
		slog.Info("database loaded", "state_dir", flagStateDir)
		return nil // PersistentPreRunE already loaded it
	},
}

var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Persist the database's current state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return db.Save(cmd.Context())
	},
}

var songCmd = &cobra.Command{
	Use:   "song <key>",
	Short: "Print a song by key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		song, ok := db.GetSong(model.SongKey(args[0]))
		if !ok {
			return fmt.Errorf("unknown song key %q", args[0])
		}
		return printJSON(song)
	},
}

var albumCmd = &cobra.Command{
	Use:   "album <key>",
	Short: "Print an album by key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		album, ok := db.GetAlbum(model.AlbumKey(args[0]))
		if !ok {
			return fmt.Errorf("unknown album key %q", args[0])
		}
		return printJSON(album)
	},
}

var artistCmd = &cobra.Command{
	Use:   "artist <key>",
	Short: "Print an artist by key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		artist, ok := db.GetArtist(model.ArtistKey(args[0]))
		if !ok {
			return fmt.Errorf("unknown artist key %q", args[0])
		}
		return printJSON(artist)
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <terms...>",
	Short: "Search songs, albums, and artists by keyword",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res := db.Search(flagSubstring, strings.Join(args, " "))
		return printJSON(res)
	},
}

func init() {
	searchCmd.Flags().BoolVar(&flagSubstring, "substring", false, "Match terms as substrings instead of prefixes")
}

var pictureCmd = &cobra.Command{
	Use:   "picture <album|artist|song> <key> [out-file]",
	Short: "Fetch artwork for an entity",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, key := args[0], args[1]
		var data []byte
		var ok bool
		var err error
		switch kind {
		case "album":
			data, ok, err = db.GetAlbumPicture(cmd.Context(), model.AlbumKey(key))
		case "artist":
			data, ok, err = db.GetArtistPicture(cmd.Context(), model.ArtistKey(key))
		case "song":
			data, ok, err = db.GetSongPicture(cmd.Context(), model.SongKey(key))
		default:
			return fmt.Errorf("unknown entity kind %q", kind)
		}
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no picture for %s %q", kind, key)
		}
		if len(args) == 3 {
			return os.WriteFile(args[2], data, 0o644)
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

var setPictureCmd = &cobra.Command{
	Use:   "set-picture <album|artist|song> <key> <file>",
	Short: "Store artwork for an entity",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, key, file := args[0], args[1], args[2]
		data, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		switch kind {
		case "album":
			err = db.SetAlbumPicture(cmd.Context(), model.AlbumKey(key), data)
		case "artist":
			err = db.SetArtistPicture(cmd.Context(), model.ArtistKey(key), data)
		case "song":
			err = db.SetSongPicture(cmd.Context(), model.SongKey(key), data)
		default:
			return fmt.Errorf("unknown entity kind %q", kind)
		}
		return err
	},
}

var ignoreCmd = &cobra.Command{
	Use:   "ignore",
	Short: "Manage ignore rules",
}

var ignoreAddCmd = &cobra.Command{
	Use:   "add <kind> <value>",
	Short: "Add an ignore rule (kind: path-root | path-keyword | dir-name)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := parseIgnoreKind(args[0])
		if err != nil {
			return err
		}
		db.AddIgnoreItem(kind, args[1])
		return db.Save(cmd.Context())
	},
}

var ignoreRemoveCmd = &cobra.Command{
	Use:   "remove <kind> <value>",
	Short: "Remove an ignore rule",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := parseIgnoreKind(args[0])
		if err != nil {
			return err
		}
		if !db.RemoveIgnoreItem(kind, args[1]) {
			return fmt.Errorf("no such ignore rule: %s %q", args[0], args[1])
		}
		return db.Save(cmd.Context())
	},
}

func init() {
	ignoreCmd.AddCommand(ignoreAddCmd, ignoreRemoveCmd)
}

func parseIgnoreKind(s string) (audiodb.IgnoreKind, error) {
	switch s {
	case "path-root":
		return audiodb.IgnorePathRoot, nil
	case "path-keyword":
		return audiodb.IgnorePathKeyword, nil
	case "dir-name":
		return audiodb.IgnoreDirName, nil
	default:
		return 0, fmt.Errorf("unknown ignore kind %q", s)
	}
}

var metadataCmd = &cobra.Command{
	Use:   "metadata",
	Short: "Get or set metadata for a song",
}

var metadataGetCmd = &cobra.Command{
	Use:   "get <path-or-key>",
	Short: "Print resolved metadata for a song",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		md, ok, err := db.GetMetadata(args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no metadata for %q", args[0])
		}
		return printJSON(md)
	},
}

var (
	flagMetaArtist string
	flagMetaAlbum  string
	flagMetaTitle  string
	flagMetaTrack  int
	flagMetaYear   int
)

var metadataSetCmd = &cobra.Command{
	Use:   "set <path-or-key>",
	Short: "Write a metadata override for a song",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		partial := model.Metadata{
			Artist: flagMetaArtist,
			Album:  flagMetaAlbum,
			Title:  flagMetaTitle,
			Track:  flagMetaTrack,
			Year:   flagMetaYear,
		}
		ok, err := db.UpdateMetadata(args[0], partial)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%q resolves under no known location", args[0])
		}
		return db.Save(cmd.Context())
	},
}

func init() {
	metadataCmd.AddCommand(metadataGetCmd, metadataSetCmd)
	metadataSetCmd.Flags().StringVar(&flagMetaArtist, "artist", "", "Override artist")
	metadataSetCmd.Flags().StringVar(&flagMetaAlbum, "album", "", "Override album")
	metadataSetCmd.Flags().StringVar(&flagMetaTitle, "title", "", "Override title")
	metadataSetCmd.Flags().IntVar(&flagMetaTrack, "track", 0, "Override track (pre-encoded with disk: trackOnDisk + diskNum*100)")
	metadataSetCmd.Flags().IntVar(&flagMetaYear, "year", 0, "Override year")
}

var canonicalNameCmd = &cobra.Command{
	Use:   "canonical-name <song-key>",
	Short: "Print a song's canonical rendered filename",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, ok := db.GetCanonicalFileName(model.SongKey(args[0]))
		if !ok {
			return fmt.Errorf("unknown song key %q", args[0])
		}
		fmt.Println(name)
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run an initial refresh, then keep refreshing on filesystem events",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if _, err := db.Refresh(ctx); err != nil {
			return err
		}
		if err := db.Save(ctx); err != nil {
			return err
		}

		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("create watcher: %w", err)
		}
		defer watcher.Close()

		for _, root := range db.GetLocations() {
			if err := addWatchTree(watcher, root); err != nil {
				slog.Warn("watch: add root failed", "root", root, "err", err)
			}
		}
		slog.Info("watching", "locations", db.GetLocations())

		debounceRefresh := time.NewTimer(0)
		if !debounceRefresh.Stop() {
			<-debounceRefresh.C
		}

		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					_ = watcher.Add(ev.Name)
				}
				debounceRefresh.Reset(config.DefaultDebounce)
			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				slog.Warn("watcher error", "err", err)
			case <-debounceRefresh.C:
				if _, err := db.Refresh(ctx); err != nil {
					slog.Error("watch refresh failed", "err", err)
					continue
				}
				if err := db.Save(ctx); err != nil {
					slog.Error("watch save failed", "err", err)
				}
			}
		}
	},
}

func addWatchTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}

func printJSON(v interface{}) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}
