package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	coverstudio "github.com/menta2k/cover-studio"
	"github.com/menta2k/cover-studio/internal/config"
	"github.com/menta2k/cover-studio/internal/utils"
	"github.com/menta2k/cover-studio/pkg/encoder"
	"github.com/menta2k/cover-studio/pkg/filter"
	"github.com/menta2k/cover-studio/pkg/geometry"
)

func main() {
	var configPath, in, cropArg, filterName, download, addr, provider string
	var suggest, publish, list, serve bool
	var pages int

	flag.StringVar(&configPath, "config", "", "config file (json or yaml), defaults to "+config.GetConfigPath()+" when present")
	flag.StringVar(&in, "in", "", "input image path or URL (jpg/png/gif/webp/bmp/tiff)")
	flag.StringVar(&cropArg, "crop", "", "crop selection in preview coordinates: x,y,size")
	flag.BoolVar(&suggest, "suggest", false, "center the crop on the detected subject")
	flag.StringVar(&provider, "provider", "", "suggestion provider: saliency|ollama|llamacpp (overrides config)")
	flag.StringVar(&filterName, "filter", "none", "filter: "+filterNames())
	flag.StringVar(&download, "download", "", "write the cover to this file or directory")
	flag.BoolVar(&publish, "publish", false, "upload the cover to the configured store")
	flag.BoolVar(&list, "list", false, "list published covers, newest first")
	flag.IntVar(&pages, "pages", 1, "number of pages to list")
	flag.BoolVar(&serve, "serve", false, "serve the gallery API and stored covers")
	flag.StringVar(&addr, "addr", ":8090", "listen address for -serve")
	flag.Parse()

	if in == "" && !list && !serve {
		log.Fatalf("usage: %s -in photo.jpg|URL [-crop x,y,size] [-suggest] [-filter sepia] [-download out/] [-publish] | -list | -serve", filepath.Base(os.Args[0]))
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	cfg.ApplyEnv()
	if provider != "" {
		cfg.Vision.Provider = provider
	}
	if download != "" {
		if ext := utils.GetFileExtension(download); ext != "" && !utils.DirExists(download) {
			format, err := encoder.ParseFormat(ext)
			if err != nil {
				log.Fatal(err)
			}
			cfg.Encoder.Format = format
		}
	}

	studio, err := coverstudio.New(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer studio.Close()

	ctx := context.Background()

	if in != "" {
		if err := makeCover(ctx, studio, in, cropArg, suggest, filterName, download, publish); err != nil {
			studio.Close()
			log.Fatal(err)
		}
	}

	if list {
		for i := 0; i < pages && studio.Gallery.HasMore(); i++ {
			if _, err := studio.Feed.LoadMore(ctx); err != nil {
				studio.Close()
				log.Fatalf("Failed to list covers: %v", err)
			}
		}
		for _, url := range studio.Gallery.Entries() {
			log.Println(url)
		}
		log.Printf("%d covers, more=%v", studio.Gallery.Len(), studio.Gallery.HasMore())
	}

	if serve {
		log.Printf("serving covers on %s", addr)
		if err := http.ListenAndServe(addr, studio.Handler()); err != nil {
			studio.Close()
			log.Fatal(err)
		}
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		if !utils.FileExists(config.GetConfigPath()) {
			return config.Default(), nil
		}
		path = config.GetConfigPath()
	}
	return config.LoadFromFile(path)
}

func makeCover(ctx context.Context, studio *coverstudio.Studio, in, cropArg string, suggest bool, filterName, download string, publish bool) error {
	ed := studio.Editor
	ed.Open()
	if err := ed.LoadFile(ctx, in); err != nil {
		return err
	}
	v := ed.View()
	log.Printf("loaded %s: %.0fx%.0f, preview %.0fx%.0f@%.0f,%.0f",
		in, v.Source.W, v.Source.H, v.Fit.DisplayWidth, v.Fit.DisplayHeight, v.Fit.OffsetX, v.Fit.OffsetY)

	if cropArg != "" {
		area, err := parseCrop(cropArg)
		if err != nil {
			return err
		}
		ed.SetCrop(area)
	}
	if suggest {
		if _, err := studio.SuggestCrop(ctx); err != nil {
			log.Printf("crop suggestion failed: %v", err)
		}
	}

	rect, err := ed.SourceRect()
	if err != nil {
		return err
	}
	log.Printf("crop %+v -> source %.0fx%.0f@%.0f,%.0f", ed.View().Crop, rect.W, rect.H, rect.X, rect.Y)

	if err := ed.ApplyCrop(ctx); err != nil {
		return err
	}
	f := filter.Parse(filterName)
	if f == filter.None && filterName != "" && !strings.EqualFold(filterName, string(filter.None)) {
		log.Printf("unknown filter %q, using original", filterName)
	}
	ed.SetFilter(f)

	if download != "" {
		var buf bytes.Buffer
		res, err := ed.Download(ctx, &buf)
		if err != nil {
			return err
		}
		path := utils.OutputPath(download, encoder.DownloadName(res.Format))
		if err := utils.WriteFile(path, buf.Bytes()); err != nil {
			return err
		}
		log.Printf("wrote %s (%s, quality %d)", path, utils.FormatFileSize(int64(res.Size())), res.Quality)
	}

	if publish {
		url, err := ed.Publish(ctx)
		if err != nil {
			return err
		}
		log.Printf("published %s", url)
	}
	return nil
}

func parseCrop(arg string) (geometry.CropArea, error) {
	parts := strings.Split(arg, ",")
	if len(parts) != 3 {
		return geometry.CropArea{}, fmt.Errorf("invalid -crop %q, expected x,y,size", arg)
	}
	var vals [3]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return geometry.CropArea{}, fmt.Errorf("invalid -crop %q, expected x,y,size", arg)
		}
		vals[i] = v
	}
	return geometry.CropArea{X: vals[0], Y: vals[1], Size: vals[2]}, nil
}

func filterNames() string {
	var names []string
	for _, f := range filter.All() {
		names = append(names, string(f))
	}
	return strings.Join(names, "|")
}
