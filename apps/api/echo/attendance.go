package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/attendance"
)

type attendanceApi struct {
	svc *attendance.Service
}

func registerAttendanceAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *attendance.Service) {
	api := attendanceApi{svc: svc}

	ag := g.Group("/attendance", jwt)
	ag.GET("", api.byClassDate, staffMiddleware())
	ag.POST("", api.markRoster, staffMiddleware())
	ag.PUT("/:classId/:date/:studentId", api.mark, staffMiddleware())
	ag.GET("/mine", api.mine, roleMiddleware(core.RoleStudent))
	ag.GET("/students/:studentId", api.forStudent, staffMiddleware())
}

func (api *attendanceApi) markRoster(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	var data attendance.RosterMarks
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to RosterMarks")
	}
	records, err := api.svc.MarkRoster(ctx.Request().Context(), sess, data)
	if err != nil {
		return errors.Wrap(err, "marking attendance")
	}
	return ctx.JSON(http.StatusOK, records)
}

func (api *attendanceApi) mark(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	var data MarkRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to MarkRequest")
	}
	rec, err := api.svc.Mark(ctx.Request().Context(), sess, ctx.Param("classId"), ctx.Param("date"), ctx.Param("studentId"), data.Status)
	if err != nil {
		return errors.Wrap(err, "marking attendance")
	}
	return ctx.JSON(http.StatusOK, rec)
}

func (api *attendanceApi) byClassDate(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	records, err := api.svc.ByClassDate(ctx.Request().Context(), sess, ctx.QueryParam("classId"), ctx.QueryParam("date"))
	if err != nil {
		return errors.Wrap(err, "listing attendance")
	}
	return ctx.JSON(http.StatusOK, records)
}

func (api *attendanceApi) mine(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	return api.history(ctx, sess, sess.UID)
}

func (api *attendanceApi) forStudent(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	return api.history(ctx, sess, ctx.Param("studentId"))
}

func (api *attendanceApi) history(ctx echo.Context, sess core.Session, studentID string) error {
	records, err := api.svc.ForStudent(ctx.Request().Context(), sess, studentID)
	if err != nil {
		return errors.Wrap(err, "listing attendance")
	}
	return ctx.JSON(http.StatusOK, AttendanceResponse{
		Records: records,
		Summary: attendance.Summarize(records),
	})
}

type (
	MarkRequest struct {
		Status attendance.Status `json:"status"`
	}

	AttendanceResponse struct {
		Records []attendance.Record `json:"records"`
		Summary attendance.Summary  `json:"summary"`
	}
)
