// Command viewportctl is a one-shot CLI demonstrating the viewport→render
// pipeline: it opens a PDF, fits one page to a viewport, waits for the
// first frame, and writes it out as a PNG. It is a collaborator, not part
// of the core (spec §1, §6 "CLI"), adapted from the teacher's
// render_tool/render_tool.go.
//
// The render engine itself is out of scope (spec §1: "the underlying PDF
// rasterizer library itself" is treated as an opaque capability) — this
// binary links pdfviewport.NewNullRasterizer as a placeholder. A
// production build would instead link a real engine behind the same
// pdfviewport.Rasterizer interface.
package main

import (
	"fmt"
	"image"
	"image/png"
	"log"
	"os"
	"time"

	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/nitro/pdfviewport"
)

var (
	pdfPath  = kingpin.Arg("pdf", "PDF file").Required().String()
	page     = kingpin.Flag("page", "0-indexed page number").Default("0").Short('p').Int()
	width    = kingpin.Flag("width", "viewport logical width").Default("1200").Short('w').Float64()
	height   = kingpin.Flag("height", "viewport logical height").Default("800").Short('h').Float64()
	dpr      = kingpin.Flag("dpr", "device pixel ratio").Default("1").Float64()
	out      = kingpin.Flag("out", "output PNG path").Short('o').String()
	waitTime = kingpin.Flag("timeout", "how long to wait for the first frame").Default("2s").Duration()
)

func main() {
	kingpin.Parse()

	if *out == "" {
		*out = *pdfPath + ".png"
	}

	// Placeholder page geometry: a real build links an engine that reports
	// the document's actual page sizes instead.
	raster := pdfviewport.NewNullRasterizer(pdfviewport.PageSize{Width: 612, Height: 792}, 1)

	ready := make(chan uint64, 1)
	ctrl, err := pdfviewport.NewViewportController(raster, 0,
		pdfviewport.WithFrameReady(func(generation uint64) {
			select {
			case ready <- generation:
			default:
			}
		}),
	)
	if err != nil {
		log.Fatalf("failed to create viewport controller: %s", err)
	}
	defer ctrl.Shutdown()

	ctrl.SetViewportSize(*width, *height, *dpr)
	ctrl.SetPdf(*pdfPath)
	ctrl.SetPage(*page)
	ctrl.RequestRender()

	select {
	case <-ready:
	case <-time.After(*waitTime):
		log.Fatalf("timed out waiting for a frame after %s", *waitTime)
	}

	frame, ok := ctrl.GetFrame()
	if !ok {
		log.Fatalf("no frame available")
	}

	f, err := os.Create(*out)
	if err != nil {
		log.Fatalf("failed to create %s: %s", *out, err)
	}
	defer f.Close()

	if err := png.Encode(f, bgraToNRGBA(frame)); err != nil {
		log.Fatalf("failed to encode PNG: %s", err)
	}

	fmt.Fprintf(os.Stderr, "wrote %s (%dx%d)\n", *out, frame.Width, frame.Height)
}

// bgraToNRGBA copies a BGRA8888-little-endian Image (spec §6 "Shared-memory
// buffers") into a standard library image.NRGBA for PNG encoding.
func bgraToNRGBA(img pdfviewport.Image) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, img.Width, img.Height))
	for y := 0; y < img.Height; y++ {
		srcRow := img.Pixels[y*img.Stride : y*img.Stride+img.Width*4]
		dstRow := dst.Pix[y*dst.Stride : y*dst.Stride+img.Width*4]
		for x := 0; x < img.Width; x++ {
			b, g, r, a := srcRow[x*4], srcRow[x*4+1], srcRow[x*4+2], srcRow[x*4+3]
			dstRow[x*4], dstRow[x*4+1], dstRow[x*4+2], dstRow[x*4+3] = r, g, b, a
		}
	}
	return dst
}
