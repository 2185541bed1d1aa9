package documents

import "gorm.io/gorm"

// ServiceDB exposes the service's database handle to external tests.
func ServiceDB(s *Service) *gorm.DB {
	return s.db
}
