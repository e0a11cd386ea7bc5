package cli

import (
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/mchmarny/mathscore/pkg/predict"
	"github.com/mchmarny/mathscore/pkg/record"
	"github.com/mchmarny/mathscore/pkg/stage"
)

// formOptions are the select choices offered by the prediction form.
var formOptions = map[string][]string{
	record.ColGender:        {"female", "male"},
	record.ColRaceEthnicity: {"group A", "group B", "group C", "group D", "group E"},
	record.ColParentalEdu: {
		"associate's degree",
		"bachelor's degree",
		"high school",
		"master's degree",
		"some college",
		"some high school",
	},
	record.ColLunch:    {"free/reduced", "standard"},
	record.ColTestPrep: {"none", "completed"},
}

var templateFuncs = template.FuncMap{
	"score": func(v float64) string { return fmt.Sprintf("%.1f", v) },
	"dict":  dict,
}

// dict builds a map from alternating keys and values for nested templates.
func dict(kv ...any) (map[string]any, error) {
	if len(kv)%2 != 0 {
		return nil, errors.New("dict requires key/value pairs")
	}
	m := make(map[string]any, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			return nil, fmt.Errorf("dict key %v is not a string", kv[i])
		}
		m[k] = kv[i+1]
	}
	return m, nil
}

func faviconHandler(w http.ResponseWriter, r *http.Request) {
	file, err := embedFS.ReadFile("assets/img/favicon.svg")
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	if _, err = w.Write(file); err != nil {
		slog.Error("failed to write favicon", "error", err)
	}
}

func render(w http.ResponseWriter, tmpl *template.Template, status int, name string, d map[string]any) {
	d["version"] = version
	d["commit"] = commit
	d["build_date"] = date

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := tmpl.ExecuteTemplate(w, name, d); err != nil {
		slog.Error("template render failed", "template", name, "error", err)
	}
}

func homeViewHandler(tmpl *template.Template, p *predict.Predictor) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		render(w, tmpl, http.StatusOK, "home", map[string]any{
			"ready": p.Ready(),
		})
	}
}

func formData(values map[string]string, msg string) map[string]any {
	return map[string]any{
		"options": formOptions,
		"values":  values,
		"err":     msg,
	}
}

func predictFormHandler(tmpl *template.Template) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		render(w, tmpl, http.StatusOK, "predict", formData(map[string]string{}, ""))
	}
}

func predictSubmitHandler(tmpl *template.Template, p *predict.Predictor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, serverMaxBodyBytes)
		if err := r.ParseForm(); err != nil {
			render(w, tmpl, http.StatusBadRequest, "predict", formData(map[string]string{}, "unable to read the submitted form"))
			return
		}

		values := make(map[string]string, len(r.PostForm))
		for k := range r.PostForm {
			values[k] = r.PostForm.Get(k)
		}

		rec, err := record.FromForm(r.PostForm)
		if err != nil {
			slog.Debug("invalid form", "error", err)
			render(w, tmpl, http.StatusBadRequest, "predict", formData(values, validationMessage(err)))
			return
		}

		res, err := p.PredictResult(r.Context(), rec)
		if err != nil {
			slog.Error("prediction failed", "error", err)
			render(w, tmpl, http.StatusInternalServerError, "error", map[string]any{})
			return
		}

		render(w, tmpl, http.StatusOK, "result", map[string]any{
			"record": rec,
			"result": res,
		})
	}
}

// validationMessage returns a user facing message naming the offending field.
func validationMessage(err error) string {
	var se *stage.Error
	if errors.As(err, &se) {
		if f, ok := se.Context["field"]; ok {
			return fmt.Sprintf("%v: %v", f, se.Err)
		}
	}
	return "the submitted values are not valid"
}
