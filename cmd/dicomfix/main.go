package main

import (
	"fmt"
	"io"
	"os"
)

// version is set at build time via -ldflags
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run dispatches args to a subcommand and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stderr)
		return 2
	}

	switch args[0] {
	case "serve":
		return runServe(args[1:], stdout, stderr)
	case "fix":
		return runFix(args[1:], stdout, stderr)
	case "batch":
		return runBatch(args[1:], stdout, stderr)
	case "nifti":
		return runNifti(args[1:], stdout, stderr)
	case "--version", "-version", "version":
		fmt.Fprintf(stdout, "dicomfix %s\n", version)
		return 0
	case "--help", "-help", "-h", "help":
		printHelp(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Error: unknown command %q\n", args[0])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "\nUsage:")
	fmt.Fprintln(w, "  dicomfix <serve|fix|batch|nifti> [options]")
	fmt.Fprintln(w, "  dicomfix --help")
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, "dicomfix")
	fmt.Fprintln(w, "========")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Repair incomplete medical images into conformant DICOM files.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                 Run the HTTP API")
	fmt.Fprintln(w, "      --listen <ADDR>       Listen address (default from config: ':8080')")
	fmt.Fprintln(w, "      --save-config <FILE>  Write the effective configuration to FILE before serving")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  fix                   Repair one file (DICOM, raw pixels or grayscale image)")
	fmt.Fprintln(w, "      --input <FILE>        Input file, interpreted by extension")
	fmt.Fprintln(w, "      --output <FILE>       Output DICOM file")
	fmt.Fprintln(w, "      --rows <N> --cols <N> --bits <N>")
	fmt.Fprintln(w, "                            Geometry of a raw input (bits default: 16)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  batch                 Repair every entry of a ZIP archive")
	fmt.Fprintln(w, "      --input <ZIP>         Input archive")
	fmt.Fprintln(w, "      --output <ZIP>        Output archive (.dcm and .error.txt entries)")
	fmt.Fprintln(w, "      --rows <N> --cols <N> --bits <N>")
	fmt.Fprintln(w, "                            Geometry of raw entries")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  nifti                 Slice a NIfTI-1 volume into a DICOM series")
	fmt.Fprintln(w, "      --input <FILE>        .nii or .nii.gz volume")
	fmt.Fprintln(w, "      --output <ZIP>        Output archive of slices")
	fmt.Fprintln(w, "      --position-mode <M>   axis-aligned or affine (default from config)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Common options:")
	fmt.Fprintln(w, "  --config <FILE>       Load configuration from YAML file")
	fmt.Fprintln(w, "  --default <NAME=VALUE>")
	fmt.Fprintln(w, "                        Override a metadata default (repeatable)")
	fmt.Fprintln(w, "                        Example: --default \"Modality=MR\"")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  --version             Show version")
	fmt.Fprintln(w, "  --help                Show this help message")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment:")
	fmt.Fprintln(w, "  DICOMFIX_* variables override the configuration file,")
	fmt.Fprintln(w, "  e.g. DICOMFIX_LISTEN=:9000 or DICOMFIX_DEFAULT_MODALITY=MR")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Examples:")
	fmt.Fprintln(w, "  # Wrap a 512x512 16-bit raw buffer")
	fmt.Fprintln(w, "  dicomfix fix --input slice.raw --rows 512 --cols 512 --output slice.dcm")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  # Repair an export, tagging everything as MR")
	fmt.Fprintln(w, "  dicomfix batch --input export.zip --output fixed.zip --default Modality=MR")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  # Convert a volume using its affine for slice positions")
	fmt.Fprintln(w, "  dicomfix nifti --input brain.nii.gz --output brain.zip --position-mode affine")
}
