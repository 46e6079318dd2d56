// Copyright 2019 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"image"
	"image/png"
	"os"

	"tgos.dev/tgos/pkg/sentry/devices/gpudev"
)

// frameImage converts a B8G8R8A8 framebuffer to an image. Alpha is ignored.
func frameImage(width, height int, pix []byte) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := 0; i+gpudev.BytesPerPixel <= len(pix) && i < len(img.Pix); i += gpudev.BytesPerPixel {
		img.Pix[i+0] = pix[i+2]
		img.Pix[i+1] = pix[i+1]
		img.Pix[i+2] = pix[i+0]
		img.Pix[i+3] = 0xff
	}
	return img
}

func writeScreenshot(path string, fb *gpudev.Framebuffer) error {
	w, h := fb.Size()
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, frameImage(w, h, fb.Snapshot())); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
