// Converts object detection annotations between COCO, YOLO, Pascal VOC, CVAT, TFOD CSV,
// Label Studio, Hugging Face ImageFolder, KITTI, TFRecord and the IR JSON form.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/sensorable/annoconv"
)

var (
	convertFrom annoconv.Format // The source format.
	convertTo   annoconv.Format // The target format.

	inputPath  string // The input label file or directory, depending on the format.
	outputPath string // The output label file or directory, depending on the format.

	allowLossy   bool   // Write even if the target format loses information.
	dryRun       bool   // Only analyze the conversion.
	reportFormat string // How to print the conversion report: "", "text" or "json".

	options annoconv.Options // The per-format options.
)

func formatNames(canUse func(annoconv.Format) bool) string {
	var names []string
	for _, f := range annoconv.Formats() {
		if canUse(f) {
			names = append(names, f.String())
		}
	}
	return strings.Join(names, ", ")
}

func init() {
	flag.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "Usage of %s:\n", filepath.Base(os.Args[0]))
		_, _ = fmt.Fprintf(os.Stderr, "  %s -from <format> -input <path> -to <format> -output <path>\n",
			filepath.Base(os.Args[0]))
		_, _ = fmt.Fprintln(os.Stderr, "  input formats:\t"+formatNames(annoconv.Format.CanRead))
		_, _ = fmt.Fprintln(os.Stderr, "  output formats:\t"+formatNames(annoconv.Format.CanWrite))
		_, _ = fmt.Fprintln(os.Stderr, "  hf, hf-parquet options:\t[-hf-bbox xywh|xyxy] [-hf-split <name>]")
		_, _ = fmt.Fprintln(os.Stderr, "  tfrecord output options:\t[-tfrecord-label-map-file <file>] [-num-shards]")
		_, _ = fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
	}

	printUsageAndExit := func(msg ...interface{}) {
		log.Print(msg...)
		flag.Usage()
		os.Exit(1)
	}

	// Format arguments.
	from := flag.String("from", "", "The source `format`")
	to := flag.String("to", "", "The target `format`")

	// Path arguments.
	flag.StringVar(&inputPath, "input", inputPath,
		"The `path` to the label input file (coco, cvat, tfod, label-studio, ir) or directory"+
				" (yolo, voc, kitti, hf)")
	flag.StringVar(&outputPath, "output", outputPath,
		"The `path` to the label output file or directory, depending on the format")

	// Conversion arguments.
	flag.BoolVar(&allowLossy, "allow-lossy", allowLossy,
		"Convert even if the target format cannot carry all information of the source")
	flag.BoolVar(&dryRun, "dry-run", dryRun, "Analyze the conversion without writing the output")
	flag.StringVar(&reportFormat, "report", reportFormat,
		"Print the conversion report to stdout in the given `format` {text, json}")

	// Format options.
	hfBBox := flag.String("hf-bbox", "xywh", "The Hugging Face bbox `encoding` {xywh, xyxy}")
	flag.StringVar(&options.HF.Split, "hf-split", "",
		"The Hugging Face split `name` to read or write (empty reads the root or the only split)")
	flag.StringVar(&options.TFRecord.LabelMapPath, "tfrecord-label-map-file", "",
		"The TFRecord label map file `path` (defaults to label_map.pbtxt next to the output)")
	flag.IntVar(&options.TFRecord.NumShards, "num-shards", 1,
		"The number of shard files to create (tfrecord only)")

	// Parse and validate flags.
	flag.Parse()

	var err error
	if convertFrom, err = annoconv.ParseFormat(*from); err != nil || !convertFrom.CanRead() {
		printUsageAndExit("Unsupported input format ", *from)
	}
	if convertTo, err = annoconv.ParseFormat(*to); err != nil || !convertTo.CanWrite() {
		printUsageAndExit("Unsupported output format ", *to)
	}
	if options.HF.BBoxFormat, err = annoconv.ParseHFBBoxFormat(*hfBBox); err != nil {
		printUsageAndExit(err)
	}
	switch reportFormat {
	case "", "text", "json":
	default:
		printUsageAndExit("Invalid value for -report: ", reportFormat)
	}
	if options.TFRecord.NumShards < 1 {
		printUsageAndExit("Invalid value for -num-shards: ", options.TFRecord.NumShards)
	}

	// Validate and clean path arguments.
	if inputPath == "" {
		printUsageAndExit("Missing input path argument")
	}
	if outputPath == "" && !dryRun {
		printUsageAndExit("Missing output path argument")
	}
	inputPath = filepath.Clean(inputPath)
	if outputPath != "" {
		outputPath = filepath.Clean(outputPath)
		if inputPath == outputPath {
			printUsageAndExit("The input and output paths cannot be identical")
		}
	}
}

func printReport(report annoconv.ConversionReport) {
	if report.ToName == "" {
		return // The input could not be read.
	}
	switch reportFormat {
	case "text":
		fmt.Print(report)
	case "json":
		enc, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			log.Fatal("Failed to encode the report: ", err)
		}
		fmt.Println(string(enc))
	}
}

func main() {
	if dryRun {
		ds, err := annoconv.Read(convertFrom, inputPath, options)
		if err != nil {
			log.Fatal("Failed to parse the input: ", err)
		}
		report := annoconv.AnalyzeConversion(ds, convertFrom, convertTo)
		printReport(report)
		if reportFormat == "" {
			for _, issue := range report.Issues {
				log.Printf("%s: %s", issue.Severity, issue.Message)
			}
		}
		return
	}

	report, err := annoconv.Convert(convertFrom, inputPath, convertTo, outputPath, options, allowLossy)
	printReport(report)
	if errors.Is(err, annoconv.ErrLossyConversion) {
		for _, w := range report.Warnings() {
			log.Print("Would lose information: ", w.Message)
		}
		log.Fatal("Conversion refused, use -allow-lossy to convert anyway: ", err)
	} else if err != nil {
		log.Fatal("Conversion failed: ", err)
	}

	log.Printf("Successfully converted %s to %s", convertFrom, convertTo)
}
