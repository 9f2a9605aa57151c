package cli

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hacknation/dozin/internal/models"
	"github.com/hacknation/dozin/internal/services"
)

// sample data for generating demo listings
var (
	sampleDescriptions = map[string][]string{
		models.CategoryMoney:          {"جزدانێکی قاوەیی پڕ لە پارە", "بڕێک پارەی کاغەزی لە زەرفێکدا"},
		models.CategoryNationalID:     {"کارتی نیشتیمانی لە نزیک بازاڕ دۆزرایەوە", "کارتی نیشتیمانی لەناو تەکسییەکدا"},
		models.CategoryPassport:       {"پاسپۆرتێکی شین لە فڕۆکەخانە", "پاسپۆرت لەگەڵ چەند وێنەیەکی شەخسی"},
		models.CategoryVehicleLicense: {"مۆڵەتی شۆفێری لە نزیک بەنزینخانە", "مۆڵەتی شۆفێری لەناو جزدانێکی ڕەش"},
		models.CategoryKeys:           {"کلیلی ماڵ و ئۆتۆمبێل بە زنجیرێکی سوور", "سێ کلیل بە کلیلدانێکی بچووک"},
		models.CategoryMobile:         {"مۆبایلی ئایفۆن بە کەیسی ڕەش", "مۆبایلی سامسۆنگ لە پارکی گشتی"},
		models.CategoryBag:            {"جانتای قوتابخانەی شین پڕ لە کتێب", "جانتای دەستی ژنانە لە چێشتخانەیەک"},
		models.CategoryOther:          {"کاتژمێرێکی زیوی بە بەندی ئاسن", "چاویلکەی خۆر لە کیسەی خۆیدا"},
	}

	sampleNames = []string{"", "ئاراس", "شیلان", "ڕێبوار", "ژیان", ""}
)

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	var count int
	var seed int64

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert generated demo listings",
		Long: `Generate realistic found-item listings and insert them into the listing store.
Every generated listing passes the same validation as a submitted form.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(rootOpts, count, seed, cmd)
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 10, "number of listings to insert")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed (0 = time based)")

	return cmd
}

// SeedResult is the payload of seed output.
type SeedResult struct {
	Inserted int      `json:"inserted"`
	IDs      []string `json:"ids"`
}

func (r SeedResult) String() string {
	return fmt.Sprintf("inserted %d listings\n%s", r.Inserted, strings.Join(r.IDs, "\n"))
}

func runSeed(opts *RootOptions, count int, seed int64, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	if count <= 0 {
		return fmt.Errorf("--count must be positive, got %d", count)
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	formatter.VerboseLog("seed %d", seed)

	ctx := cmd.Context()
	store, closeStore, err := opts.OpenStore(ctx)
	if err != nil {
		return fmt.Errorf("failed to open listing store: %w", err)
	}
	defer closeStore(ctx)

	today := time.Now()
	res := SeedResult{IDs: make([]string, 0, count)}
	for i := 0; i < count; i++ {
		d := sampleDraft(rng, today)
		if errs := services.ValidateDraft(d); len(errs) > 0 {
			return fmt.Errorf("generated listing %d is invalid: %w", i, errs)
		}

		id, err := store.Create(ctx, d.Listing(nil))
		if err != nil {
			return fmt.Errorf("failed to insert listing %d: %w", i, err)
		}
		formatter.VerboseLog("inserted %s (%s, %s)", id, d.Category, d.City)
		res.IDs = append(res.IDs, id)
		res.Inserted++
	}

	return formatter.Success(res)
}

// sampleDraft builds a random valid draft found within the last 30 days
func sampleDraft(rng *rand.Rand, today time.Time) models.Draft {
	category := models.Categories[rng.Intn(len(models.Categories))].Value
	descriptions := sampleDescriptions[category]

	d := models.NewDraft(today.AddDate(0, 0, -rng.Intn(30)))
	d.Category = category
	d.City = models.Cities[rng.Intn(len(models.Cities))]
	d.Description = descriptions[rng.Intn(len(descriptions))]
	d.Phone = fmt.Sprintf("07%d%08d", 5+rng.Intn(3), rng.Intn(100000000))
	d.Name = sampleNames[rng.Intn(len(sampleNames))]
	return d
}
