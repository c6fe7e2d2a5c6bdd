package forecast

import "github.com/kjstillabower/forecast-digest-service/internal/models"

func param(start, end, name string) models.TimeEntry {
	return models.TimeEntry{StartTime: start, EndTime: end, Value: models.ParametricValue(models.Parameter{ParameterName: name})}
}

func measured(start, end, value, unit string) models.TimeEntry {
	return models.TimeEntry{StartTime: start, EndTime: end, Value: models.MeasuredValue(models.Measure{Value: value, Measures: unit})}
}

func element(name string, entries ...models.TimeEntry) models.WeatherElement {
	return models.WeatherElement{ElementName: name, Time: entries}
}

// taipei is a three-period location in CWA element order.
func taipei() models.Location {
	return models.Location{
		LocationName: "臺北市",
		WeatherElement: []models.WeatherElement{
			element("Wx",
				param("2024-01-01 06:00:00", "2024-01-01 18:00:00", "多雲時晴"),
				param("2024-01-01 18:00:00", "2024-01-02 06:00:00", "多雲"),
				param("2024-01-02 06:00:00", "2024-01-02 18:00:00", "晴時多雲"),
			),
			element("PoP",
				param("2024-01-01 06:00:00", "2024-01-01 18:00:00", "30"),
				param("2024-01-01 18:00:00", "2024-01-02 06:00:00", "10"),
				param("2024-01-02 06:00:00", "2024-01-02 18:00:00", "0"),
			),
			element("MinT",
				param("2024-01-01 06:00:00", "2024-01-01 18:00:00", "15"),
				param("2024-01-01 18:00:00", "2024-01-02 06:00:00", "14"),
				param("2024-01-02 06:00:00", "2024-01-02 18:00:00", "16"),
			),
			element("CI",
				param("2024-01-01 06:00:00", "2024-01-01 18:00:00", "寒冷"),
				param("2024-01-01 18:00:00", "2024-01-02 06:00:00", "寒冷至稍有寒意"),
				param("2024-01-02 06:00:00", "2024-01-02 18:00:00", "稍有寒意"),
			),
			element("MaxT",
				param("2024-01-01 06:00:00", "2024-01-01 18:00:00", "22"),
				param("2024-01-01 18:00:00", "2024-01-02 06:00:00", "18"),
				param("2024-01-02 06:00:00", "2024-01-02 18:00:00", "23"),
			),
		},
	}
}

func threeCities() models.ForecastDocument {
	taichung := taipei()
	taichung.LocationName = "臺中市"
	kaohsiung := taipei()
	kaohsiung.LocationName = "高雄市"
	return models.ForecastDocument{Locations: []models.Location{taipei(), taichung, kaohsiung}}
}
