// Package dataset loads MNIST digits and serves them as shuffled mini-batches.
package dataset

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	// ImageSize is the flattened 28×28 image length.
	ImageSize = 28 * 28
	// NumClasses is the number of digit classes.
	NumClasses = 10

	// Mean and Std are the MNIST training-set pixel statistics used for
	// normalisation: x' = (x/255 - Mean) / Std.
	Mean = 0.1307
	Std  = 0.3081
)

// Split selects the training or test portion of MNIST.
type Split int

const (
	Train Split = iota
	Test
)

func (s Split) String() string {
	if s == Train {
		return "train"
	}
	return "test"
}

// files returns the image and label file names of the split.
func (s Split) files() (images, labels string) {
	if s == Train {
		return "train-images-idx3-ubyte", "train-labels-idx1-ubyte"
	}
	return "t10k-images-idx3-ubyte", "t10k-labels-idx1-ubyte"
}

// Dataset holds normalised images and their labels.
type Dataset struct {
	Images [][]float32 // [num_samples][784]
	Labels []int       // [num_samples], values in [0, 9]
}

// Len returns the number of samples.
func (d *Dataset) Len() int {
	return len(d.Images)
}

// Validate checks that images and labels line up and labels are in range.
func (d *Dataset) Validate() error {
	if len(d.Images) != len(d.Labels) {
		return fmt.Errorf("image count (%d) != label count (%d)", len(d.Images), len(d.Labels))
	}
	for i, img := range d.Images {
		if len(img) != ImageSize {
			return fmt.Errorf("image %d has %d pixels, want %d", i, len(img), ImageSize)
		}
		if l := d.Labels[i]; l < 0 || l >= NumClasses {
			return fmt.Errorf("label out of range [0, 9] at sample %d: %d", i, l)
		}
	}
	return nil
}

// Filter returns the samples whose label satisfies keep. Image slices are
// shared with d.
func (d *Dataset) Filter(keep func(label int) bool) *Dataset {
	out := &Dataset{}
	for i, l := range d.Labels {
		if keep(l) {
			out.Images = append(out.Images, d.Images[i])
			out.Labels = append(out.Labels, l)
		}
	}
	return out
}

// OnlyDigit returns the samples labelled digit.
func (d *Dataset) OnlyDigit(digit int) *Dataset {
	return d.Filter(func(l int) bool { return l == digit })
}

// LabelCounts returns how many samples each class has.
func (d *Dataset) LabelCounts() [NumClasses]int {
	var counts [NumClasses]int
	for _, l := range d.Labels {
		counts[l]++
	}
	return counts
}

func normalize(pixel byte) float32 {
	return (float32(pixel)/255.0 - Mean) / Std
}

func denormalize(x float32) byte {
	v := math.Round(float64((x*Std + Mean) * 255))
	return byte(math.Max(0, math.Min(255, v)))
}

// fromRaw normalises raw pixel bytes into a Dataset.
func fromRaw(images [][]byte, labels []byte) (*Dataset, error) {
	if len(images) != len(labels) {
		return nil, fmt.Errorf("image count (%d) != label count (%d)", len(images), len(labels))
	}
	d := &Dataset{
		Images: make([][]float32, len(images)),
		Labels: make([]int, len(labels)),
	}
	for i, raw := range images {
		if len(raw) != ImageSize {
			return nil, fmt.Errorf("image %d has %d pixels, want %d", i, len(raw), ImageSize)
		}
		img := make([]float32, ImageSize)
		for j, p := range raw {
			img[j] = normalize(p)
		}
		d.Images[i] = img
		d.Labels[i] = int(labels[i])
	}
	return d, d.Validate()
}

// Load reads one split of MNIST from IDX files in dir.
//
// Both plain and gzip-compressed (*.gz) files are accepted. maxSamples > 0
// truncates the split.
func Load(dir string, split Split, maxSamples int) (*Dataset, error) {
	imageName, labelName := split.files()

	images, err := readImagesFile(findFile(dir, imageName), maxSamples)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s images: %w", split, err)
	}
	labels, err := readLabelsFile(findFile(dir, labelName), maxSamples)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s labels: %w", split, err)
	}
	return fromRaw(images, labels)
}

// LoadSplits loads the training and test splits concurrently.
//
// A split whose load has not started when ctx is cancelled (or the other
// split fails) is skipped.
func LoadSplits(ctx context.Context, dir string, maxTrain, maxTest int) (train, test *Dataset, err error) {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		train, err = Load(dir, Train, maxTrain)
		return err
	})
	g.Go(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		test, err = Load(dir, Test, maxTest)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return train, test, nil
}

// findFile prefers the uncompressed file and falls back to name + ".gz".
func findFile(dir, name string) string {
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); err == nil {
		return path
	}
	if _, err := os.Stat(path + ".gz"); err == nil {
		return path + ".gz"
	}
	return path
}

func readImagesFile(path string, maxSamples int) ([][]byte, error) {
	rc, err := openIDX(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	images, size, err := readIDXImages(rc, maxSamples)
	if err != nil {
		return nil, err
	}
	if size != ImageSize {
		return nil, fmt.Errorf("images are %d pixels, want %d", size, ImageSize)
	}
	return images, nil
}

func readLabelsFile(path string, maxSamples int) ([]byte, error) {
	rc, err := openIDX(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return readIDXLabels(rc, maxSamples)
}

// WriteIDX stores d as uncompressed IDX files of the given split in dir,
// the layout Load reads.
func (d *Dataset) WriteIDX(dir string, split Split) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	imageName, labelName := split.files()

	raw := make([][]byte, d.Len())
	labels := make([]byte, d.Len())
	for i, img := range d.Images {
		raw[i] = make([]byte, ImageSize)
		for j, x := range img {
			raw[i][j] = denormalize(x)
		}
		labels[i] = byte(d.Labels[i])
	}

	write := func(name string, fn func(f *os.File) error) error {
		//nolint:gosec // G304: output path comes from the caller
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if err := fn(f); err != nil {
			_ = f.Close()
			return err
		}
		return f.Close()
	}
	if err := write(imageName, func(f *os.File) error { return writeIDXImages(f, raw, 28, 28) }); err != nil {
		return fmt.Errorf("write %s images: %w", split, err)
	}
	if err := write(labelName, func(f *os.File) error { return writeIDXLabels(f, labels) }); err != nil {
		return fmt.Errorf("write %s labels: %w", split, err)
	}
	return nil
}

// Synthetic generates n labelled images without touching the filesystem.
//
// Digit d is a bright horizontal band starting at row 2d with Gaussian pixel
// noise on top, so the classes are separable but not trivially so. Labels
// cycle 0..9. Pixels go through the same byte quantisation and normalisation
// as real MNIST.
func Synthetic(n int, src rand.Source) *Dataset {
	noise := distuv.Normal{Mu: 0, Sigma: 40, Src: src}

	images := make([][]byte, n)
	labels := make([]byte, n)
	for i := 0; i < n; i++ {
		digit := i % NumClasses
		img := make([]byte, ImageSize)
		for row := 0; row < 28; row++ {
			for col := 0; col < 28; col++ {
				v := noise.Rand()
				if row >= digit*2 && row < digit*2+8 && col >= 5 && col < 23 {
					v += 200
				}
				img[row*28+col] = byte(math.Max(0, math.Min(255, v)))
			}
		}
		images[i] = img
		labels[i] = byte(digit)
	}

	d, err := fromRaw(images, labels)
	if err != nil {
		// fromRaw only fails on malformed input, which Synthetic never builds.
		panic(fmt.Sprintf("dataset.Synthetic: %v", err))
	}
	return d
}
