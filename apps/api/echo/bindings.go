package echoapi

import (
	"mime/multipart"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/coursework"
)

const (
	orderingParam = "ordering"
	fileField     = "file"
)

type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	ord.Orderings = core.ParseOrdering(ctx.QueryParam(orderingParam))
}

// bindUpload opens the multipart file of the request, if any. The caller closes it.
func bindUpload(ctx echo.Context) (*coursework.Upload, func(), error) {
	fh, err := ctx.FormFile(fileField)
	if err != nil {
		if err == http.ErrMissingFile || err == http.ErrNotMultipart {
			return nil, func() {}, nil
		}
		return nil, nil, echo.NewHTTPError(http.StatusBadRequest, "invalid multipart form").SetInternal(err)
	}
	return openUpload(fh)
}

func openUpload(fh *multipart.FileHeader) (*coursework.Upload, func(), error) {
	f, err := fh.Open()
	if err != nil {
		return nil, nil, errors.Wrapf(err, "opening uploaded file %s", fh.Filename)
	}
	return &coursework.Upload{Name: fh.Filename, Content: f}, func() { _ = f.Close() }, nil
}

type (
	SuccessResponse struct {
		Success string `json:"success"`
	}

	CountResponse struct {
		Count int `json:"count"`
	}

	DestroyMultipleRequest struct {
		IDs []string `query:"id"`
	}
)
