package listing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func validDraft() *Draft {
	return &Draft{
		Title:       Localized{UK: "Керамічна чашка", RU: "Керамическая чашка"},
		Description: Localized{UK: "Біла чашка 350 мл", RU: "Белая чашка 350 мл"},
		Keywords:    LocalizedList{UK: []string{"чашка"}, RU: []string{"чашка"}},
		Price:       250,
		Currency:    "UAH",
		ImageKeys:   []string{"processed/run/0"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(d *Draft)
		want   string
	}{
		{name: "valid", modify: func(d *Draft) {}, want: ValidationOK},
		{name: "zero price", modify: func(d *Draft) { d.Price = 0 }, want: "price must be greater than zero"},
		{name: "negative price", modify: func(d *Draft) { d.Price = -5 }, want: "price must be greater than zero"},
		{name: "nan price", modify: func(d *Draft) { d.Price = math.NaN() }, want: "price must be greater than zero"},
		{name: "infinite price", modify: func(d *Draft) { d.Price = math.Inf(1) }, want: "price must be greater than zero"},
		{name: "blank title", modify: func(d *Draft) { d.Title.UK = "  " }, want: "title is empty"},
		{name: "blank keywords only", modify: func(d *Draft) { d.Keywords.UK = []string{"", " "} }, want: "no keywords"},
		{
			name: "everything missing",
			modify: func(d *Draft) {
				*d = Draft{}
			},
			want: "title is empty; description is empty; no images; price must be greater than zero; no keywords",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validDraft()
			tt.modify(d)
			assert.Equal(t, tt.want, Validate(d))
		})
	}
}
