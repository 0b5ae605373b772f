package httpapi

import (
	"io"
	"mime/multipart"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"kpiboard/internal/api"
	"kpiboard/internal/apperr"
	"kpiboard/internal/discrepancy"
	"kpiboard/internal/evidence"
	"kpiboard/internal/scoring"
	"kpiboard/internal/store"
)

type handler struct {
	board     *api.Board
	maxUpload int64
	loc       *time.Location
}

type statusBody struct {
	Status string `json:"status"`
	Period string `json:"period"`
	Board  string `json:"board"`
}

// meetingBody.Date takes RFC 3339 or a local "2006-01-02T15:04" form.
type meetingBody struct {
	Date  string `json:"date"`
	Notes string `json:"notes"`
}

func (h *handler) health(c *gin.Context) {
	respond(c, api.OK(gin.H{"status": "ok"}))
}

// GET /deliverables/:id?board=&period=
func (h *handler) getDeliverable(c *gin.Context) {
	respond(c, h.board.Deliverable(c.Request.Context(), callerFrom(c), scoring.ViewRequest{
		DeliverableID: c.Param("id"),
		PeriodLabel:   c.Query("period"),
		BoardOwnerID:  c.Query("board"),
	}))
}

// GET /deliverables/:id/status-options?board=&period=
func (h *handler) statusOptions(c *gin.Context) {
	respond(c, h.board.StatusOptions(c.Request.Context(), callerFrom(c), scoring.ViewRequest{
		DeliverableID: c.Param("id"),
		PeriodLabel:   c.Query("period"),
		BoardOwnerID:  c.Query("board"),
	}))
}

// POST /deliverables/:id/assignee-score (multipart: value, notes, period, files)
func (h *handler) submitAssigneeScore(c *gin.Context) {
	req, err := h.scoreRequest(c)
	if err != nil {
		respond(c, api.Fail(err))
		return
	}
	respond(c, h.board.SubmitAssigneeScore(c.Request.Context(), callerFrom(c), req))
}

// POST /deliverables/:id/creator-score
func (h *handler) submitCreatorScore(c *gin.Context) {
	req, err := h.scoreRequest(c)
	if err != nil {
		respond(c, api.Fail(err))
		return
	}
	respond(c, h.board.SubmitCreatorScore(c.Request.Context(), callerFrom(c), req))
}

// POST /deliverables/:id/status
func (h *handler) changeStatus(c *gin.Context) {
	var body statusBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respond(c, api.Fail(apperr.Wrap(apperr.KindValidation, err, "invalid status body")))
		return
	}
	respond(c, h.board.ChangeStatus(c.Request.Context(), callerFrom(c), scoring.StatusRequest{
		DeliverableID: c.Param("id"),
		PeriodLabel:   body.Period,
		Status:        body.Status,
		BoardOwnerID:  body.Board,
	}))
}

// GET /discrepancies?kpi=&assignee=&deliverable=&resolved=
func (h *handler) listDiscrepancies(c *gin.Context) {
	f := store.Filter{
		KPIID:         c.Query("kpi"),
		AssigneeID:    c.Query("assignee"),
		DeliverableID: c.Query("deliverable"),
	}
	if raw := c.Query("resolved"); raw != "" {
		resolved, err := strconv.ParseBool(raw)
		if err != nil {
			respond(c, api.Fail(apperr.New(apperr.KindValidation, "resolved must be true or false, got %q", raw)))
			return
		}
		f.Resolved = &resolved
	}
	respond(c, h.board.Discrepancies(c.Request.Context(), f))
}

// GET /discrepancies/:id
func (h *handler) getDiscrepancy(c *gin.Context) {
	respond(c, h.board.Discrepancy(c.Request.Context(), c.Param("id")))
}

// POST /discrepancies/:id/meeting
func (h *handler) bookMeeting(c *gin.Context) {
	var body meetingBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respond(c, api.Fail(apperr.Wrap(apperr.KindValidation, err, "invalid meeting body")))
		return
	}
	date, err := discrepancy.ParseMeetingTime(body.Date, h.loc)
	if err != nil {
		respond(c, api.Fail(err))
		return
	}
	respond(c, h.board.BookMeeting(c.Request.Context(), callerFrom(c), c.Param("id"), discrepancy.MeetingRequest{
		Date:  date,
		Notes: body.Notes,
	}))
}

// POST /discrepancies/:id/resolve (multipart: new_score?, resolution_notes, file?)
func (h *handler) resolveDiscrepancy(c *gin.Context) {
	if err := h.parseMultipart(c); err != nil {
		respond(c, api.Fail(err))
		return
	}
	req := scoring.ResolveRequest{
		DiscrepancyID:   c.Param("id"),
		ResolutionNotes: c.PostForm("resolution_notes"),
	}
	if raw := strings.TrimSpace(c.PostForm("new_score")); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			respond(c, api.Fail(apperr.New(apperr.KindValidation, "new_score %q is not a number", raw)))
			return
		}
		req.NewScore = &v
	}
	files, err := readFiles(c, "file")
	if err != nil {
		respond(c, api.Fail(err))
		return
	}
	if len(files) > 1 {
		respond(c, api.Fail(apperr.New(apperr.KindValidation, "at most one resolution file is allowed")))
		return
	}
	if len(files) == 1 {
		req.File = &files[0]
	}
	respond(c, h.board.ResolveDiscrepancy(c.Request.Context(), callerFrom(c), req))
}

func (h *handler) scoreRequest(c *gin.Context) (scoring.ScoreRequest, error) {
	if err := h.parseMultipart(c); err != nil {
		return scoring.ScoreRequest{}, err
	}
	raw := strings.TrimSpace(c.PostForm("value"))
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return scoring.ScoreRequest{}, apperr.New(apperr.KindValidation, "value %q is not a number", raw)
	}
	files, err := readFiles(c, "files")
	if err != nil {
		return scoring.ScoreRequest{}, err
	}
	return scoring.ScoreRequest{
		DeliverableID: c.Param("id"),
		PeriodLabel:   c.PostForm("period"),
		Value:         value,
		Notes:         c.PostForm("notes"),
		Files:         files,
	}, nil
}

// parseMultipart accepts multipart and urlencoded bodies alike.
func (h *handler) parseMultipart(c *gin.Context) error {
	if !strings.HasPrefix(c.ContentType(), "multipart/") {
		return nil
	}
	if err := c.Request.ParseMultipartForm(h.maxUpload); err != nil {
		return apperr.Wrap(apperr.KindValidation, err, "invalid multipart body")
	}
	return nil
}

func readFiles(c *gin.Context, field string) ([]evidence.File, error) {
	form := c.Request.MultipartForm
	if form == nil {
		return nil, nil
	}
	headers := form.File[field]
	files := make([]evidence.File, 0, len(headers))
	for _, fh := range headers {
		f, err := readFile(fh)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

func readFile(fh *multipart.FileHeader) (evidence.File, error) {
	src, err := fh.Open()
	if err != nil {
		return evidence.File{}, apperr.Wrap(apperr.KindValidation, err, "open upload %q", fh.Filename)
	}
	defer src.Close()
	data, err := io.ReadAll(src)
	if err != nil {
		return evidence.File{}, apperr.Wrap(apperr.KindValidation, err, "read upload %q", fh.Filename)
	}
	return evidence.File{
		Name:        fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}
