package echoapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/coursework"
)

type courseworkApi struct {
	svc *coursework.Service
}

func registerCourseworkAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *coursework.Service) {
	api := courseworkApi{svc: svc}

	ag := g.Group("/assignments", jwt)
	ag.GET("", api.listAssignments)
	ag.POST("", api.createAssignment, staffMiddleware())
	ag.GET("/:id", api.retrieveAssignment)
	ag.DELETE("/:id", api.destroyAssignment, staffMiddleware())
	ag.GET("/:id/submissions", api.listSubmissions, staffMiddleware())
	ag.POST("/:id/submissions", api.submit, roleMiddleware(core.RoleStudent))

	sg := g.Group("/submissions", jwt)
	sg.GET("/mine", api.mySubmissions, roleMiddleware(core.RoleStudent))
	sg.GET("/:id", api.retrieveSubmission)
	sg.PUT("/:id/grade", api.grade, staffMiddleware())

	mg := g.Group("/marks", jwt)
	mg.GET("/mine", api.myMarks, roleMiddleware(core.RoleStudent))
	mg.GET("/:studentId", api.marks, staffMiddleware())
}

// createAssignment takes a multipart form: the NewAssignment fields and an optional `file`.
func (api *courseworkApi) createAssignment(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}

	data := coursework.NewAssignment{
		Title:       ctx.FormValue("title"),
		Description: ctx.FormValue("description"),
		ClassID:     ctx.FormValue("classId"),
		SubjectID:   ctx.FormValue("subjectId"),
		DueDate:     ctx.FormValue("dueDate"),
	}
	if totalMarks := ctx.FormValue("totalMarks"); totalMarks != "" {
		if data.TotalMarks, err = strconv.Atoi(totalMarks); err != nil {
			return core.NewValidationError(err, core.FieldError{Field: "totalMarks", Error: "must be a whole number"})
		}
	}

	brief, closeBrief, err := bindUpload(ctx)
	if err != nil {
		return err
	}
	defer closeBrief()

	asg, err := api.svc.CreateAssignment(ctx.Request().Context(), sess, data, brief)
	if err != nil {
		return errors.Wrap(err, "creating assignment")
	}
	return ctx.JSON(http.StatusCreated, asg)
}

func (api *courseworkApi) listAssignments(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	var filter coursework.AssignmentFilter
	if err := ctx.Bind(&filter); err != nil {
		return ctx.JSON(http.StatusOK, []coursework.Assignment{})
	}
	asgs, err := api.svc.ListAssignments(ctx.Request().Context(), sess, filter)
	if err != nil {
		return errors.Wrap(err, "listing assignments")
	}
	return ctx.JSON(http.StatusOK, asgs)
}

func (api *courseworkApi) retrieveAssignment(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	asg, err := api.svc.GetAssignment(ctx.Request().Context(), sess, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting assignment")
	}
	return ctx.JSON(http.StatusOK, asg)
}

func (api *courseworkApi) destroyAssignment(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	if err := api.svc.DeleteAssignment(ctx.Request().Context(), sess, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting assignment")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *courseworkApi) listSubmissions(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	subs, err := api.svc.ListSubmissions(ctx.Request().Context(), sess, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "listing submissions")
	}
	return ctx.JSON(http.StatusOK, subs)
}

// submit takes a multipart form with the `file` of the student's work.
func (api *courseworkApi) submit(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	work, closeWork, err := bindUpload(ctx)
	if err != nil {
		return err
	}
	defer closeWork()

	sub, err := api.svc.Submit(ctx.Request().Context(), sess, ctx.Param("id"), work)
	if err != nil {
		return errors.Wrap(err, "submitting")
	}
	return ctx.JSON(http.StatusCreated, sub)
}

func (api *courseworkApi) retrieveSubmission(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	sub, err := api.svc.GetSubmission(ctx.Request().Context(), sess, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting submission")
	}
	return ctx.JSON(http.StatusOK, sub)
}

func (api *courseworkApi) mySubmissions(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	subs, err := api.svc.StudentSubmissions(ctx.Request().Context(), sess, sess.UID)
	if err != nil {
		return errors.Wrap(err, "listing submissions")
	}
	return ctx.JSON(http.StatusOK, subs)
}

func (api *courseworkApi) grade(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	var data coursework.GradeInput
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to GradeInput")
	}
	sub, err := api.svc.Grade(ctx.Request().Context(), sess, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "grading submission")
	}
	return ctx.JSON(http.StatusOK, sub)
}

func (api *courseworkApi) myMarks(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	report, err := api.svc.Marks(ctx.Request().Context(), sess, sess.UID)
	if err != nil {
		return errors.Wrap(err, "getting marks")
	}
	return ctx.JSON(http.StatusOK, report)
}

func (api *courseworkApi) marks(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	report, err := api.svc.Marks(ctx.Request().Context(), sess, ctx.Param("studentId"))
	if err != nil {
		return errors.Wrap(err, "getting marks")
	}
	return ctx.JSON(http.StatusOK, report)
}
