// Command imgloadctl inspects and maintains an imgload disk cache from
// the shell.
//
// Usage:
//
//	imgloadctl [--config FILE] [--dir DIR] stats
//	imgloadctl [--config FILE] [--dir DIR] get <uri>
//	imgloadctl [--config FILE] [--dir DIR] rm <uri>
//	imgloadctl [--config FILE] [--dir DIR] clear
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/meigma/imgload/cache"
	"github.com/meigma/imgload/config"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := flag.NewFlagSet("imgloadctl", flag.ContinueOnError)
	configPath := flags.StringP("config", "c", config.DefaultFileName, "config file")
	dir := flags.StringP("dir", "d", "", "cache directory (overrides config)")
	if err := flags.Parse(args); err != nil {
		return 2
	}
	rest := flags.Args()
	if len(rest) == 0 {
		fmt.Fprintln(os.Stderr, "usage: imgloadctl [--config FILE] [--dir DIR] stats|get|rm|clear")
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	if *dir != "" {
		cfg.CacheDir = *dir
	}
	if cfg.CacheDir == "" {
		fmt.Fprintln(os.Stderr, "error: no cache directory configured")
		return 1
	}

	dc, err := cfg.OpenDiskCache()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	defer dc.Close()

	switch cmd, cmdArgs := rest[0], rest[1:]; cmd {
	case "stats":
		return cmdStats(cfg)
	case "get":
		return cmdGet(dc, cmdArgs)
	case "rm":
		return cmdRemove(dc, cmdArgs)
	case "clear":
		if err := dc.Clear(); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			return 1
		}
		fmt.Println("cache cleared")
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		return 2
	}
}

func cmdStats(cfg config.Config) int {
	var size int64
	var files int
	err := walkFiles(cfg.CacheDir, func(name string, length int64) {
		size += length
		files++
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	fmt.Printf("directory:   %s\n", cfg.CacheDir)
	fmt.Printf("files:       %d\n", files)
	fmt.Printf("bytes:       %d\n", size)
	fmt.Printf("size bound:  %d\n", cfg.DiskCacheSize)
	if cfg.DiskCacheFileCount > 0 {
		fmt.Printf("file bound:  %d\n", cfg.DiskCacheFileCount)
	}
	return 0
}

func cmdGet(c cache.DiskCache, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: imgloadctl get <uri>")
		return 2
	}
	path, err := c.Get(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "not cached")
		return 1
	}
	fmt.Println(path)
	return 0
}

func cmdRemove(c cache.DiskCache, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: imgloadctl rm <uri>")
		return 2
	}
	if !c.Remove(args[0]) {
		fmt.Fprintln(os.Stderr, "not cached")
		return 1
	}
	fmt.Println("removed")
	return 0
}

// walkFiles visits the cache's value files, skipping the journal and lock
// bookkeeping.
func walkFiles(dir string, visit func(name string, length int64)) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		switch de.Name() {
		case "journal", "journal.tmp", "journal.bkp", ".lock":
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		visit(de.Name(), info.Size())
	}
	return nil
}
