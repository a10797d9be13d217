package calendar

// cnHolidays lists the weekday market closures per the State Council holiday
// schedule, keyed by year. Weekends are handled separately, so only weekday
// closures appear here. Years outside this table fall back to the plain
// weekday check.
var cnHolidays = map[int]map[string]struct{}{
	2024: toSet(
		// 元旦
		"2024-01-01",
		// 春节
		"2024-02-09", "2024-02-12", "2024-02-13", "2024-02-14", "2024-02-15", "2024-02-16",
		// 清明节
		"2024-04-04", "2024-04-05",
		// 劳动节
		"2024-05-01", "2024-05-02", "2024-05-03",
		// 端午节
		"2024-06-10",
		// 中秋节
		"2024-09-16", "2024-09-17",
		// 国庆节
		"2024-10-01", "2024-10-02", "2024-10-03", "2024-10-04", "2024-10-07",
	),
	2025: toSet(
		// 元旦
		"2025-01-01",
		// 春节
		"2025-01-28", "2025-01-29", "2025-01-30", "2025-01-31", "2025-02-03", "2025-02-04",
		// 清明节
		"2025-04-04",
		// 劳动节
		"2025-05-01", "2025-05-02", "2025-05-05",
		// 端午节
		"2025-06-02",
		// 国庆节、中秋节
		"2025-10-01", "2025-10-02", "2025-10-03", "2025-10-06", "2025-10-07", "2025-10-08",
	),
	2026: toSet(
		// 元旦
		"2026-01-01", "2026-01-02",
		// 春节
		"2026-02-16", "2026-02-17", "2026-02-18", "2026-02-19", "2026-02-20",
		// 清明节
		"2026-04-06",
		// 劳动节
		"2026-05-01", "2026-05-04", "2026-05-05",
		// 端午节
		"2026-06-19",
		// 中秋节
		"2026-09-25",
		// 国庆节
		"2026-10-01", "2026-10-02", "2026-10-05", "2026-10-06", "2026-10-07",
	),
}

func toSet(dates ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(dates))
	for _, d := range dates {
		set[d] = struct{}{}
	}
	return set
}
