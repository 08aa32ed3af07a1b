// Package web はログイン画面・ホーム画面のテンプレートと静的ファイルを埋め込みで提供します。
package web

import (
	"embed"
	"html/template"
	"io/fs"
	"net/http"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// Templates は gin の SetHTMLTemplate に渡すテンプレート集合を返します。
func Templates() *template.Template {
	funcs := template.FuncMap{
		// 選択中の店舗IDと一致するかを判定する（ActiveStoreID は nil の場合がある）
		"isActive": func(active *int64, id int64) bool {
			return active != nil && *active == id
		},
	}
	return template.Must(template.New("").Funcs(funcs).ParseFS(templateFS, "templates/*.html"))
}

// Static は /static 配下で配信するファイルシステムを返します。
func Static() http.FileSystem {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.FS(sub)
}
